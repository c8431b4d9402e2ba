// Package sessions persists the per-session Agent+Memory state spec §6
// names as the Persistence port: one JSON snapshot per session, written
// atomically so a crash mid-write never corrupts a previously-good file.
//
// Grounded on the teacher pack's closest analogue,
// jholhewres-goclaw/pkg/devclaw/copilot/session_persistence.go (per-session
// file locking keyed by a sanitized session ID), adapted from its
// append-only JSONL conversation log into a single-snapshot-per-session
// model: spec's Memory System already owns its own compaction, so the
// Store only needs to durably persist one current snapshot, not a history
// of every turn.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sentinelrun/sentinel/internal/memory"
	"github.com/sentinelrun/sentinel/pkg/models"
)

// Snapshot is the durable state of a single session: its metadata plus the
// full state of its three-tier Memory System.
type Snapshot struct {
	Session     models.Session       `json:"session"`
	Working     WorkingSnapshot      `json:"working"`
	ShortTerm   memory.Snapshot      `json:"short_term"`
	Facts       []memory.Fact        `json:"facts"`
	Preferences map[string]string    `json:"preferences"`
	Corrections []memory.Correction  `json:"corrections"`
	SavedAt     time.Time            `json:"saved_at"`
}

// WorkingSnapshot is the serializable subset of WorkingMemory's state.
type WorkingSnapshot struct {
	CurrentGoal string            `json:"current_goal"`
	SubTasks    []string          `json:"sub_tasks,omitempty"`
	Scratchpad  map[string]string `json:"scratchpad,omitempty"`
	ActiveFiles []string          `json:"active_files,omitempty"`
}

// Store is the Persistence port: durable load/save/delete of session snapshots.
type Store interface {
	Save(snapshot Snapshot) error
	Load(sessionID string) (Snapshot, bool, error)
	Delete(sessionID string) error
}

// FileStore is a Store backed by one JSON file per session under a
// configured directory, written via a temp-file-then-rename so a reader
// never observes a partially-written file.
type FileStore struct {
	dir string

	mapMu  sync.Mutex
	fileMu map[string]*sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir, creating it if necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("sessions directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir %q: %w", dir, err)
	}
	return &FileStore{dir: dir, fileMu: make(map[string]*sync.Mutex)}, nil
}

func sanitizeID(sessionID string) string {
	s := sessionID
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}

func (f *FileStore) lockFor(sessionID string) *sync.Mutex {
	key := sanitizeID(sessionID)
	f.mapMu.Lock()
	defer f.mapMu.Unlock()
	if m, ok := f.fileMu[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	f.fileMu[key] = m
	return m
}

func (f *FileStore) path(sessionID string) string {
	return filepath.Join(f.dir, sanitizeID(sessionID)+".json")
}

// Save atomically writes the snapshot, overwriting any prior snapshot for
// the same session.
func (f *FileStore) Save(snapshot Snapshot) error {
	if snapshot.Session.ID == "" {
		return fmt.Errorf("snapshot session ID is required")
	}
	mu := f.lockFor(snapshot.Session.ID)
	mu.Lock()
	defer mu.Unlock()

	snapshot.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	target := f.path(snapshot.Session.ID)
	tmp, err := os.CreateTemp(f.dir, sanitizeID(snapshot.Session.ID)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// Load reads a session's snapshot. A missing file returns (zero, false,
// nil) rather than an error — callers should treat it as "start fresh". A
// corrupt file also returns (zero, false, nil): a tolerable loss of one
// session's state is preferable to blocking startup on a bad disk write.
func (f *FileStore) Load(sessionID string) (Snapshot, bool, error) {
	mu := f.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(f.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

// Delete removes a session's snapshot file, if any.
func (f *FileStore) Delete(sessionID string) error {
	mu := f.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(f.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// SnapshotSystem captures a memory.System's full state for persistence.
func SnapshotSystem(session models.Session, sys *memory.System) Snapshot {
	return Snapshot{
		Session: session,
		Working: WorkingSnapshot{
			CurrentGoal: sys.Working.CurrentGoal,
			SubTasks:    append([]string{}, sys.Working.SubTasks...),
			Scratchpad:  sys.Working.Scratchpad,
			ActiveFiles: append([]string{}, sys.Working.ActiveFiles...),
		},
		ShortTerm:   sys.ShortTerm.Snapshot(),
		Facts:       sys.LongTerm.Facts,
		Preferences: sys.LongTerm.Preferences,
		Corrections: sys.LongTerm.Corrections,
	}
}

// RestoreSystem rebuilds a memory.System from a Snapshot.
func RestoreSystem(snap Snapshot) *memory.System {
	sys := &memory.System{
		Working:   memory.NewWorkingMemory(),
		ShortTerm: memory.RestoreShortTermMemory(snap.ShortTerm),
		LongTerm:  memory.NewLongTermMemory(),
	}
	sys.Working.SetGoal(snap.Working.CurrentGoal)
	for _, t := range snap.Working.SubTasks {
		sys.Working.AddSubTask(t)
	}
	for k, v := range snap.Working.Scratchpad {
		sys.Working.Note(k, v)
	}
	for _, file := range snap.Working.ActiveFiles {
		sys.Working.AddActiveFile(file)
	}
	// Restore long-term memory's exported fields directly rather than via
	// AddFact/AddCorrection, which would mint fresh IDs and timestamps and
	// lose the originals. Safe before the system is shared across
	// goroutines (construction time only).
	sys.LongTerm.Facts = append([]memory.Fact{}, snap.Facts...)
	sys.LongTerm.Corrections = append([]memory.Correction{}, snap.Corrections...)
	for k, v := range snap.Preferences {
		sys.LongTerm.SetPreference(k, v)
	}
	return sys
}
