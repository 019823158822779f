package store

import (
	"strings"
	"time"
)

// State represents the lifecycle of a project's video generation job.
type State string

const (
	StateNotStarted State = "not_started"
	StateGenerating State = "generating"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// DaemonStopReason is the error recorded for runs interrupted by a daemon restart.
const DaemonStopReason = "Daemon stopped"

var allStates = []State{
	StateNotStarted,
	StateGenerating,
	StateCompleted,
	StateFailed,
	StateCancelled,
}

// transitions lists every state change the store will persist.
var transitions = map[State][]State{
	StateNotStarted: {StateGenerating, StateCancelled},
	StateGenerating: {StateCompleted, StateFailed, StateCancelled},
	StateCompleted:  {StateNotStarted},
	StateFailed:     {StateNotStarted},
	StateCancelled:  {StateNotStarted},
}

// ParseState normalizes a state string. Unknown values return false.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	for _, state := range allStates {
		if state == normalized {
			return state, true
		}
	}
	return "", false
}

// AllStates returns every known state in lifecycle order.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// IsTerminal reports whether the state ends a run.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// JobStatus is the externally visible progress record of a project's video job.
type JobStatus struct {
	State     State     `json:"state"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Project groups an ordered list of media items and owns one video job.
type Project struct {
	ID        int64
	Title     string
	Status    JobStatus
	VideoPath string
	VideoKey  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasVideo reports whether a finished artifact is attached.
func (p *Project) HasVideo() bool {
	return p != nil && (strings.TrimSpace(p.VideoPath) != "" || strings.TrimSpace(p.VideoKey) != "")
}

// Item is one narrated still: text to speak, an image to show, and the
// synthesized audio once available.
type Item struct {
	ID            int64
	ProjectID     int64
	Position      int
	Content       string
	Instruct      string
	ImagePath     string
	AudioPath     string
	AudioDuration float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasImage reports whether an image is attached.
func (i *Item) HasImage() bool {
	return i != nil && strings.TrimSpace(i.ImagePath) != ""
}

// HasAudio reports whether synthesized audio is attached.
func (i *Item) HasAudio() bool {
	return i != nil && strings.TrimSpace(i.AudioPath) != ""
}

// RenderReady reports whether the item can be turned into a video segment.
func (i *Item) RenderReady() bool {
	return i.HasImage() && i.HasAudio()
}

// Direction selects which neighbour an item swaps with when moved.
type Direction int

const (
	MoveUp Direction = iota
	MoveDown
)
