// Package contextbus implements the Context Bus (spec.md §4.2): a
// file-backed, layered key/value store shared by all agent processes.
// Every agent snapshots it at the start of a task to build a
// cross-agent-aware prompt. Grounded on core/context_bus.py.
package contextbus

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/loomwork/loom/internal/docstore"
	"github.com/loomwork/loom/internal/filelock"
)

// Layer is a Context Bus entry's retention tier, per spec.md §3.4.
type Layer string

const (
	Task    Layer = "TASK"
	Session Layer = "SESSION"
	Short   Layer = "SHORT"
	Long    Layer = "LONG"
)

// defaultTTL maps a layer to its default TTL in seconds; zero means no
// auto-expiry (TASK is cleared explicitly, LONG never expires).
var defaultTTL = map[Layer]float64{
	Task:    0,
	Session: 3600,
	Short:   86400,
	Long:    0,
}

// Provenance records where a context entry came from, per spec.md §3.4.
type Provenance struct {
	Kind          string `json:"kind,omitempty"`
	SourceAgent   string `json:"source_agent,omitempty"`
	SourceChannel string `json:"source_channel,omitempty"`
	SourceTaskID  string `json:"source_task_id,omitempty"`
}

// Entry is one namespaced value on the bus.
type Entry struct {
	Value      string     `json:"value"`
	Layer      Layer      `json:"layer"`
	TTLSeconds float64    `json:"ttl_seconds,omitempty"`
	Timestamp  float64    `json:"timestamp"`
	Provenance Provenance `json:"provenance"`
}

func (e Entry) expired(now float64) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now-e.Timestamp > e.TTLSeconds
}

type document struct {
	Entries map[string]Entry `json:"entries"`
}

// Bus is the file-backed layered KV store.
type Bus struct {
	path string
	lock *filelock.Lock
	log  *slog.Logger
	now  func() float64
}

// New opens (or initializes) a context bus backed by path, with its
// lockfile at path+".lock", per spec.md §6.4.
func New(path string, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{path: path, lock: filelock.New(path + ".lock"), log: log, now: nowSeconds}
}

func namespacedKey(agentID, key string) string {
	return agentID + ":" + key
}

func (b *Bus) readDoc() (*document, error) {
	doc := &document{Entries: make(map[string]Entry)}
	if err := docstore.Read(b.path, doc); err != nil {
		return nil, fmt.Errorf("contextbus: read %s: %w", b.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]Entry)
	}
	return doc, nil
}

func (b *Bus) mutate(fn func(doc *document) error) error {
	return b.lock.With(func() error {
		doc, err := b.readDoc()
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		return docstore.Write(b.path, doc)
	})
}

// Publish inserts or updates the namespaced entry "{agent}:{key}". A
// ttlSeconds of zero uses the layer's default (§3.4); pass a positive
// value to override it explicitly.
func (b *Bus) Publish(agent, key, value string, layer Layer, ttlSeconds float64, prov Provenance) error {
	ttl := ttlSeconds
	if ttl == 0 {
		ttl = defaultTTL[layer]
	}
	return b.mutate(func(doc *document) error {
		doc.Entries[namespacedKey(agent, key)] = Entry{
			Value:      value,
			Layer:      layer,
			TTLSeconds: ttl,
			Timestamp:  b.now(),
			Provenance: prov,
		}
		return nil
	})
}

// Get returns the entry for "{agent}:{key}" iff it exists and is not
// expired. Expired entries are lazily pruned on read, per spec.md §4.2.
func (b *Bus) Get(agent, key string) (Entry, bool, error) {
	doc, err := b.readDoc()
	if err != nil {
		return Entry{}, false, err
	}
	k := namespacedKey(agent, key)
	e, ok := doc.Entries[k]
	if !ok {
		return Entry{}, false, nil
	}
	if e.expired(b.now()) {
		err := b.mutate(func(doc *document) error {
			if cur, ok := doc.Entries[k]; ok && cur.expired(b.now()) {
				delete(doc.Entries, k)
			}
			return nil
		})
		return Entry{}, false, err
	}
	return e, true, nil
}

// Snapshot returns every unexpired entry, keyed by its namespaced key.
func (b *Bus) Snapshot() (map[string]Entry, error) {
	doc, err := b.readDoc()
	if err != nil {
		return nil, err
	}
	now := b.now()
	out := make(map[string]Entry, len(doc.Entries))
	for k, e := range doc.Entries {
		if !e.expired(now) {
			out[k] = e
		}
	}
	return out, nil
}

// SnapshotForAgent returns entries visible to agentID: unexpired entries
// from any agent, filtered to layers at or below maxLayer's precedence
// (TASK < SESSION < SHORT < LONG).
func (b *Bus) SnapshotForAgent(agentID string, maxLayer Layer) (map[string]Entry, error) {
	doc, err := b.readDoc()
	if err != nil {
		return nil, err
	}
	now := b.now()
	maxRank := layerRank[maxLayer]
	out := make(map[string]Entry)
	for k, e := range doc.Entries {
		if e.expired(now) {
			continue
		}
		if layerRank[e.Layer] > maxRank {
			continue
		}
		out[k] = e
	}
	return out, nil
}

var layerRank = map[Layer]int{Task: 0, Session: 1, Short: 2, Long: 3}

// ClearTaskLayer removes every TASK-layer entry, called when a task
// completes.
func (b *Bus) ClearTaskLayer() (int, error) {
	removed := 0
	err := b.mutate(func(doc *document) error {
		for k, e := range doc.Entries {
			if e.Layer == Task {
				delete(doc.Entries, k)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// CleanupExpired removes every expired entry regardless of layer.
func (b *Bus) CleanupExpired() (int, error) {
	removed := 0
	err := b.mutate(func(doc *document) error {
		now := b.now()
		for k, e := range doc.Entries {
			if e.expired(now) {
				delete(doc.Entries, k)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// AgentAndKey splits a namespaced key back into its agent id and bare key.
func AgentAndKey(namespaced string) (agent, key string, ok bool) {
	i := strings.IndexByte(namespaced, ':')
	if i < 0 {
		return "", "", false
	}
	return namespaced[:i], namespaced[i+1:], true
}
