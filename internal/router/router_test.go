package router_test

import (
	"testing"

	"github.com/loomwork/loom/internal/router"
	"github.com/stretchr/testify/assert"
)

func TestClassify_ShortInputIsDirect(t *testing.T) {
	assert.Equal(t, router.DirectAnswer, router.Classify("hi"))
	assert.Equal(t, router.DirectAnswer, router.Classify(""))
	assert.Equal(t, router.DirectAnswer, router.Classify("   "))
}

func TestClassify_MultiStepIsPipeline(t *testing.T) {
	assert.Equal(t, router.Pipeline, router.Classify("first check the logs and then restart the service"))
}

func TestClassify_ActionSignalIsPipeline(t *testing.T) {
	assert.Equal(t, router.Pipeline, router.Classify("write a script that prints 1 to 10 and run it"))
}

func TestClassify_QuestionSignalIsDirect(t *testing.T) {
	assert.Equal(t, router.DirectAnswer, router.Classify("what is TCP"))
	assert.Equal(t, router.DirectAnswer, router.Classify("explain how DNS resolution works"))
}

func TestClassify_ShortQuestionMarkIsDirect(t *testing.T) {
	assert.Equal(t, router.DirectAnswer, router.Classify("is Go garbage collected?"))
}

func TestClassify_LongQuestionMarkFallsThrough(t *testing.T) {
	long := "does this extremely long question that goes on and on about many unrelated details eventually get answered?"
	assert.Equal(t, router.Pipeline, router.Classify(long))
}

func TestClassify_DefaultIsPipeline(t *testing.T) {
	assert.Equal(t, router.Pipeline, router.Classify("the quarterly numbers look interesting this time around"))
}

func TestClassify_ActionSignalBeatsQuestionSignal(t *testing.T) {
	// "search" (action) and "what is" (question) both appear; action
	// signals are checked before question signals, so Pipeline wins.
	assert.Equal(t, router.Pipeline, router.Classify("search for what is the best database to use"))
}
