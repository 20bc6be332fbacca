// Package persistence implements the eight-document, debounced,
// crash-consistent JSON snapshot layer: preferences, plugins, links,
// rules, layout, hidden, viewport, and window, each written to its own
// file in the per-user config directory with write-to-temp-then-rename
// durability.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Document names the eight recognized JSON documents this store persists.
const (
	DocPreferences = "preferences"
	DocPlugins     = "plugins"
	DocLinks       = "links"
	DocRules       = "rules"
	DocLayout      = "layout"
	DocHidden      = "hidden"
	DocViewport    = "viewport"
	DocWindow      = "window"
)

// defaultDebounce holds each document's default debounce duration.
// preferences/rules/hidden persist immediately (zero debounce).
var defaultDebounce = map[string]time.Duration{
	DocPreferences: 0,
	DocPlugins:     time.Second,
	DocLinks:       2 * time.Second,
	DocRules:       0,
	DocLayout:      500 * time.Millisecond,
	DocHidden:      0,
	DocViewport:    500 * time.Millisecond,
	DocWindow:      500 * time.Millisecond,
}

// Store owns every document's debounce timer and does the actual
// marshal/write work. One timer per document name; a write before the
// previous timer fires simply replaces the pending payload and resets the
// timer, coalescing bursts of rapid changes into a single disk write.
type Store struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	debounce map[string]time.Duration
	timers   map[string]*time.Timer
	pending  map[string][]byte

	watcher      *fsnotify.Watcher
	externalEdit chan string
	closeOnce    sync.Once
	done         chan struct{}
}

// NewStore creates configDir if needed and starts watching it for document
// writes (see ExternalEdits).
func NewStore(configDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("persistence: creating config dir %s: %w", configDir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("persistence: starting directory watch: %w", err)
	}
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("persistence: watching %s: %w", configDir, err)
	}

	s := &Store{
		dir:          configDir,
		logger:       logger,
		debounce:     copyDebounceTable(),
		timers:       make(map[string]*time.Timer),
		pending:      make(map[string][]byte),
		watcher:      watcher,
		externalEdit: make(chan string, 16),
		done:         make(chan struct{}),
	}
	go s.watchLoop()
	return s, nil
}

func copyDebounceTable() map[string]time.Duration {
	out := make(map[string]time.Duration, len(defaultDebounce))
	for k, v := range defaultDebounce {
		out[k] = v
	}
	return out
}

// SetDebounce overrides a document's debounce duration, e.g. from the
// params_persist_ms / links_persist_ms preferences.
func (s *Store) SetDebounce(doc string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debounce[doc] = d
}

// Save marshals v and schedules (or immediately performs, for a
// zero-debounce document) the write for doc.
func (s *Store) Save(doc string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshaling %s: %w", doc, err)
	}

	s.mu.Lock()
	d := s.debounce[doc]
	if d <= 0 {
		delete(s.pending, doc)
		if t, ok := s.timers[doc]; ok {
			t.Stop()
			delete(s.timers, doc)
		}
		s.mu.Unlock()
		return s.writeDoc(doc, data)
	}

	s.pending[doc] = data
	if t, ok := s.timers[doc]; ok {
		t.Stop()
	}
	s.timers[doc] = time.AfterFunc(d, func() { s.flushOne(doc) })
	s.mu.Unlock()
	return nil
}

func (s *Store) flushOne(doc string) {
	s.mu.Lock()
	data, ok := s.pending[doc]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, doc)
	delete(s.timers, doc)
	s.mu.Unlock()

	if err := s.writeDoc(doc, data); err != nil {
		s.logger.Error("persistence: deferred write failed", "doc", doc, "err", err)
		// One retry before giving up and logging the write as failed.
		if err2 := s.writeDoc(doc, data); err2 != nil {
			s.logger.Error("persistence: retry also failed", "doc", doc, "err", err2)
		}
	}
}

// FlushAll cancels every pending timer and writes every still-pending
// document synchronously; the server worker calls it when it handles a
// Shutdown command.
func (s *Store) FlushAll() {
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[string]*time.Timer)
	pending := s.pending
	s.pending = make(map[string][]byte)
	s.mu.Unlock()

	for doc, data := range pending {
		if err := s.writeDoc(doc, data); err != nil {
			s.logger.Error("persistence: flush-on-shutdown write failed", "doc", doc, "err", err)
		}
	}
}

// writeDoc writes data for doc via write-to-temp-then-rename.
func (s *Store) writeDoc(doc string, data []byte) error {
	path := s.pathFor(doc)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads doc into out. A missing file is not an error; out is left
// unmodified so the caller's zero value / defaults apply.
func (s *Store) Load(doc string, out interface{}) error {
	data, err := os.ReadFile(s.pathFor(doc))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("persistence: reading %s: %w", doc, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("persistence: parsing %s: %w", doc, err)
	}
	return nil
}

func (s *Store) pathFor(doc string) string {
	return filepath.Join(s.dir, doc+".json")
}

// ExternalEdits returns the channel on which a document name arrives
// whenever that document's file is created or written in this Store's
// directory. The watch does not tell this Store's own writes apart from
// edits made outside the process, so every Save that reaches disk is
// reported too. A name is dropped when the channel's buffer is full.
func (s *Store) ExternalEdits() <-chan string {
	return s.externalEdit
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			doc := documentNameFromPath(event.Name)
			if doc == "" {
				continue
			}
			select {
			case s.externalEdit <- doc:
			default:
				s.logger.Warn("external edit notification dropped, channel full", "doc", doc)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config directory watch error", "err", err)
		case <-s.done:
			return
		}
	}
}

func documentNameFromPath(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext != ".json" {
		return ""
	}
	name := base[:len(base)-len(ext)]
	if _, ok := defaultDebounce[name]; !ok {
		return ""
	}
	return name
}

// Close stops the directory watch. Safe to call multiple times.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.watcher.Close()
	})
}
