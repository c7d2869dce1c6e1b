package wakeup_test

import (
	"testing"
	"time"

	"github.com/loomwork/loom/internal/wakeup"
	"github.com/stretchr/testify/assert"
)

func TestNotifyWait_WakesImmediately(t *testing.T) {
	b := wakeup.New("")
	done := make(chan bool, 1)
	go func() {
		done <- b.Wait("planner", time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Notify("planner")

	select {
	case woken := <-done:
		assert.True(t, woken)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Notify")
	}
}

func TestWait_TimesOutWithoutNotify(t *testing.T) {
	b := wakeup.New("")
	woken := b.Wait("nobody", 20*time.Millisecond)
	assert.False(t, woken)
}

func TestNotify_CoalescesMultiple(t *testing.T) {
	b := wakeup.New("")
	b.Notify("planner")
	b.Notify("planner")
	b.Notify("planner")

	assert.True(t, b.Wait("planner", time.Second))
	assert.False(t, b.Wait("planner", 20*time.Millisecond), "extra notifies before a Wait must coalesce to one wake")
}

func TestNotifyAll_WakesEveryRegistered(t *testing.T) {
	b := wakeup.New("")
	b.Register("planner")
	b.Register("coder")

	b.NotifyAll()

	assert.True(t, b.Wait("planner", time.Second))
	assert.True(t, b.Wait("coder", time.Second))
}

func TestSignalFile_CrossProcessFallback(t *testing.T) {
	dir := t.TempDir()
	sender := wakeup.New(dir)
	receiver := wakeup.New(dir)

	sender.Notify("reviewer")

	assert.True(t, receiver.Wait("reviewer", 200*time.Millisecond))
}
