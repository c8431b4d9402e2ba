package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelrun/sentinel/pkg/models"
)

// WorkingMemory holds the scratch state of the task currently executing. Its
// lifetime is a single task: Clear (invoked by StartNewTask) wipes it back to
// zero value. Grounded on rustant-core/src/memory.rs's WorkingMemory.
type WorkingMemory struct {
	mu          sync.Mutex
	CurrentGoal string
	SubTasks    []string
	Scratchpad  map[string]string
	ActiveFiles []string
}

// NewWorkingMemory returns an empty working memory.
func NewWorkingMemory() *WorkingMemory {
	return &WorkingMemory{Scratchpad: make(map[string]string)}
}

// SetGoal records the task's current goal.
func (w *WorkingMemory) SetGoal(goal string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.CurrentGoal = goal
}

// AddSubTask appends a decomposed sub-task.
func (w *WorkingMemory) AddSubTask(task string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.SubTasks = append(w.SubTasks, task)
}

// Note records a scratchpad key/value pair.
func (w *WorkingMemory) Note(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Scratchpad == nil {
		w.Scratchpad = make(map[string]string)
	}
	w.Scratchpad[key] = value
}

// AddActiveFile records a path as touched by the current task, deduplicated.
func (w *WorkingMemory) AddActiveFile(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range w.ActiveFiles {
		if f == path {
			return
		}
	}
	w.ActiveFiles = append(w.ActiveFiles, path)
}

// Clear resets working memory to its zero value.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.CurrentGoal = ""
	w.SubTasks = nil
	w.Scratchpad = make(map[string]string)
	w.ActiveFiles = nil
}

// ShortTermMemory is a sliding window of the most recent messages, with
// synchronous summarization of the overflow. Grounded on
// rustant-core/src/memory.rs's ShortTermMemory; exact invariants follow
// spec §4.4: visible messages <= window_size + 1 (the +1 being the summary),
// compression triggers once len >= 2*window_size.
type ShortTermMemory struct {
	mu                sync.Mutex
	messages          []models.Message
	windowSize        int
	summarizedPrefix  string
	hasSummary        bool
	totalMessagesSeen int
}

// NewShortTermMemory returns an empty short-term memory with the given window.
func NewShortTermMemory(windowSize int) *ShortTermMemory {
	if windowSize <= 0 {
		windowSize = 1
	}
	return &ShortTermMemory{windowSize: windowSize}
}

// Add appends a message and increments the seen counter.
func (s *ShortTermMemory) Add(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.totalMessagesSeen++
}

// ToMessages returns the messages that should be sent to the LLM: an
// optional system message carrying the summary prefix, followed by the most
// recent windowSize messages in order.
func (s *ShortTermMemory) ToMessages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.Message
	if s.hasSummary {
		result = append(result, models.Message{
			Role:    models.RoleSystem,
			Content: "[Summary of earlier conversation]\n" + s.summarizedPrefix,
		})
	}

	start := 0
	if len(s.messages) > s.windowSize {
		start = len(s.messages) - s.windowSize
	}
	result = append(result, s.messages[start:]...)
	return result
}

// NeedsCompression reports whether the window has grown to twice its target
// size and should be compressed before the next LLM turn.
func (s *ShortTermMemory) NeedsCompression() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages) >= s.windowSize*2
}

// MessagesToSummarize returns the oldest messages that compression would
// remove — the candidates to hand to the LLM for summarization.
func (s *ShortTermMemory) MessagesToSummarize() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) <= s.windowSize {
		return nil
	}
	toSummarize := len(s.messages) - s.windowSize
	out := make([]models.Message, toSummarize)
	copy(out, s.messages[:toSummarize])
	return out
}

// Compress removes the oldest len-windowSize messages and merges the given
// summary into the running summary prefix, separated by a blank line so the
// prefix accretes across repeated compressions. Returns the number of
// messages removed (0 if compression was a no-op because the window was
// already within bounds).
func (s *ShortTermMemory) Compress(summary string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) <= s.windowSize {
		return 0
	}

	toRemove := len(s.messages) - s.windowSize
	s.messages = append([]models.Message{}, s.messages[toRemove:]...)

	if s.hasSummary {
		s.summarizedPrefix = s.summarizedPrefix + "\n\n" + summary
	} else {
		s.summarizedPrefix = summary
		s.hasSummary = true
	}

	return toRemove
}

// Len returns the number of messages currently held in the window (excluding
// the summary).
func (s *ShortTermMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// IsEmpty reports whether the window holds no messages.
func (s *ShortTermMemory) IsEmpty() bool {
	return s.Len() == 0
}

// TotalMessagesSeen returns the monotonic count of messages ever added.
func (s *ShortTermMemory) TotalMessagesSeen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalMessagesSeen
}

// Summary returns the current summary prefix, if any.
func (s *ShortTermMemory) Summary() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summarizedPrefix, s.hasSummary
}

// Snapshot is the serializable state of a ShortTermMemory, used by
// internal/sessions to persist and restore the conversation window across
// process restarts.
type Snapshot struct {
	Messages          []models.Message `json:"messages"`
	WindowSize        int              `json:"window_size"`
	SummarizedPrefix  string           `json:"summarized_prefix,omitempty"`
	HasSummary        bool             `json:"has_summary"`
	TotalMessagesSeen int              `json:"total_messages_seen"`
}

// Snapshot captures the current state for persistence.
func (s *ShortTermMemory) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]models.Message, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		Messages:          msgs,
		WindowSize:        s.windowSize,
		SummarizedPrefix:  s.summarizedPrefix,
		HasSummary:        s.hasSummary,
		TotalMessagesSeen: s.totalMessagesSeen,
	}
}

// RestoreShortTermMemory rebuilds a ShortTermMemory from a Snapshot.
func RestoreShortTermMemory(snap Snapshot) *ShortTermMemory {
	windowSize := snap.WindowSize
	if windowSize <= 0 {
		windowSize = 1
	}
	msgs := make([]models.Message, len(snap.Messages))
	copy(msgs, snap.Messages)
	return &ShortTermMemory{
		messages:          msgs,
		windowSize:        windowSize,
		summarizedPrefix:  snap.SummarizedPrefix,
		hasSummary:        snap.HasSummary,
		totalMessagesSeen: snap.TotalMessagesSeen,
	}
}

// Clear wipes all messages and the summary prefix. TotalMessagesSeen resets
// along with it — it is monotonic only within a session's lifetime.
func (s *ShortTermMemory) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.summarizedPrefix = ""
	s.hasSummary = false
	s.totalMessagesSeen = 0
}

// Fact is a piece of knowledge extracted from conversation and retained
// across sessions.
type Fact struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	Tags      []string  `json:"tags,omitempty"`
}

// NewFact creates a fact with a fresh ID and timestamp.
func NewFact(content, source string, tags ...string) Fact {
	return Fact{
		ID:        uuid.NewString(),
		Content:   content,
		Source:    source,
		CreatedAt: time.Now(),
		Tags:      tags,
	}
}

// Correction records a user-issued correction to a prior assistant output.
type Correction struct {
	ID        string    `json:"id"`
	Original  string    `json:"original"`
	Corrected string    `json:"corrected"`
	Context   string    `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}

// LongTermMemory is the session-spanning store of facts, preferences, and
// corrections. Facts and corrections are additive-only: nothing here is ever
// mutated in place once written, only appended to.
type LongTermMemory struct {
	mu          sync.RWMutex
	Facts       []Fact
	Preferences map[string]string
	Corrections []Correction
}

// NewLongTermMemory returns an empty long-term memory.
func NewLongTermMemory() *LongTermMemory {
	return &LongTermMemory{Preferences: make(map[string]string)}
}

// AddFact appends a fact.
func (l *LongTermMemory) AddFact(f Fact) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Facts = append(l.Facts, f)
}

// SetPreference records or overwrites a named preference.
func (l *LongTermMemory) SetPreference(key, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Preferences == nil {
		l.Preferences = make(map[string]string)
	}
	l.Preferences[key] = value
}

// GetPreference looks up a preference by key.
func (l *LongTermMemory) GetPreference(key string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.Preferences[key]
	return v, ok
}

// AddCorrection appends a correction record.
func (l *LongTermMemory) AddCorrection(original, corrected, context string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Corrections = append(l.Corrections, Correction{
		ID:        uuid.NewString(),
		Original:  original,
		Corrected: corrected,
		Context:   context,
		Timestamp: time.Now(),
	})
}

// SearchFacts performs a case-insensitive substring match against each
// fact's content OR any of its tags, matching
// rustant-core/src/memory.rs's search_facts exactly.
func (l *LongTermMemory) SearchFacts(query string) []Fact {
	l.mu.RLock()
	defer l.mu.RUnlock()

	q := strings.ToLower(query)
	var out []Fact
	for _, f := range l.Facts {
		if strings.Contains(strings.ToLower(f.Content), q) {
			out = append(out, f)
			continue
		}
		for _, t := range f.Tags {
			if strings.Contains(strings.ToLower(t), q) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// System is the unified three-tier memory a single Agent owns: one Working,
// one ShortTerm, one LongTerm, matching the spec's ownership rule ("a session
// owns exactly one Memory and one Agent").
type System struct {
	Working   *WorkingMemory
	ShortTerm *ShortTermMemory
	LongTerm  *LongTermMemory
}

// NewSystem builds a fresh three-tier memory with the given short-term window.
func NewSystem(windowSize int) *System {
	return &System{
		Working:   NewWorkingMemory(),
		ShortTerm: NewShortTermMemory(windowSize),
		LongTerm:  NewLongTermMemory(),
	}
}

// ContextMessages returns the messages to hand to the LLM for this turn.
func (s *System) ContextMessages() []models.Message {
	return s.ShortTerm.ToMessages()
}

// AddMessage appends a message to the conversation window.
func (s *System) AddMessage(msg models.Message) {
	s.ShortTerm.Add(msg)
}

// StartNewTask clears working memory and seeds it with a new goal. Long-term
// and short-term memory are untouched.
func (s *System) StartNewTask(goal string) {
	s.Working.Clear()
	s.Working.SetGoal(goal)
}

// ClearSession wipes working and short-term memory, preserving long-term
// memory across the reset.
func (s *System) ClearSession() {
	s.Working.Clear()
	s.ShortTerm.Clear()
}
