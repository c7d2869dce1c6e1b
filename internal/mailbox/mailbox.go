// Package mailbox implements the Mailbox (spec.md §4.3): per-agent
// append-only JSONL inboxes drained atomically by their owner. Grounded on
// core/agent.py's send_mail/read_mail pair and core/orchestrator.py's
// shutdown-message send path, adapted from a per-agent in-process method
// pair into a standalone, lock-per-recipient file store.
package mailbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loomwork/loom/internal/docstore"
	"github.com/loomwork/loom/internal/filelock"
)

// Type is a mailbox message's kind, per spec.md §3.5.
type Type string

const (
	Shutdown      Type = "shutdown"
	CritiqueReq   Type = "critique_request"
	CritiqueReply Type = "critique_reply"
	SynthesisReq  Type = "synthesis_request"
	Chat          Type = "message"
)

// Message is one entry in a recipient's append-only log.
type Message struct {
	From    string `json:"from"`
	Type    Type   `json:"type"`
	Content any    `json:"content"`
	Ts      float64 `json:"ts"`
}

// Store manages per-recipient mailboxes rooted at dir, per spec.md §6.4's
// mailboxes/<agent_id>.jsonl + .mailboxes/<agent_id>.jsonl.lock layout.
type Store struct {
	dir string
	log *slog.Logger
}

// New returns a mailbox store rooted at dir. dir and its dot-prefixed lock
// directory are created lazily on first Send or Read.
func New(dir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{dir: dir, log: log}
}

func (s *Store) path(agentID string) string {
	return filepath.Join(s.dir, agentID+".jsonl")
}

func (s *Store) lockFor(agentID string) *filelock.Lock {
	lockDir := filepath.Join(filepath.Dir(s.dir), "."+filepath.Base(s.dir))
	// Both directories are created here, before the lockfile is opened; a
	// failure surfaces as the lock's own open error.
	_ = os.MkdirAll(s.dir, 0o755)
	_ = os.MkdirAll(lockDir, 0o755)
	return filelock.New(filepath.Join(lockDir, agentID+".jsonl.lock"))
}

// Send appends one message to recipient's inbox under recipient's lock,
// per spec.md §4.3 and the "at-least-once ordered per sender-recipient
// pair" guarantee of §4.3 — the per-recipient lockfile serializes all
// writers, so two senders never interleave partial appends.
func (s *Store) Send(recipient, from string, typ Type, content any) error {
	msg := Message{From: from, Type: typ, Content: content, Ts: nowSeconds()}
	lock := s.lockFor(recipient)
	return lock.With(func() error {
		if err := docstore.AppendJSONL(s.path(recipient), msg); err != nil {
			return fmt.Errorf("mailbox: send to %s: %w", recipient, err)
		}
		return nil
	})
}

// Read drains recipient's inbox: under lock, every record is read and the
// file is truncated to empty, then the batch is returned. The recipient is
// the sole consumer — spec.md §4.3 explicitly forgoes acknowledgements, so
// a crash between the read and the truncate can redeliver a message;
// consumers must be idempotent.
func (s *Store) Read(recipient string) ([]Message, error) {
	var out []Message
	lock := s.lockFor(recipient)
	err := lock.With(func() error {
		msgs, err := docstore.ReadJSONLAndTruncate[Message](s.path(recipient))
		if err != nil {
			return fmt.Errorf("mailbox: read %s: %w", recipient, err)
		}
		out = msgs
		return nil
	})
	return out, err
}

// HasShutdown reports whether msgs contains a shutdown message, per
// spec.md §4.3's shutdown-priority rule: its receipt causes the worker
// loop to exit before any other message is processed.
func HasShutdown(msgs []Message) bool {
	for _, m := range msgs {
		if m.Type == Shutdown {
			return true
		}
	}
	return false
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
