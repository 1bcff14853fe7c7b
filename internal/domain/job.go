package domain

import "time"

// JobState enumerates the lifecycle states of a generation job.
type JobState string

const (
	StatePending     JobState = "PENDING"
	StateTextReady   JobState = "TEXT_READY"
	StateDraftReady  JobState = "DRAFT_READY"
	StateSucceeded   JobState = "SUCCEEDED"
	StateFailed      JobState = "FAILED"
	StateAudioFailed JobState = "AUDIO_FAILED"
)

// Source identifies the channel that produced a status observation.
type Source string

const (
	SourceSubmit   Source = "submit"
	SourcePoll     Source = "poll"
	SourceCallback Source = "callback"
	SourceTimeout  Source = "timeout"
)

// FailureTimeout marks a job failed by budget exhaustion rather than by the provider.
const FailureTimeout = "timeout"

// stateRank orders states for monotonicity checks. Terminal states share the
// highest rank; they are distinguished by identity, not by ordering.
var stateRank = map[JobState]int{
	StatePending:     0,
	StateTextReady:   1,
	StateDraftReady:  2,
	StateSucceeded:   3,
	StateFailed:      3,
	StateAudioFailed: 3,
}

// Valid reports whether s is a known state label.
func (s JobState) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// Terminal reports whether the state has no outgoing transitions.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAudioFailed
}

// Rank returns the position of s in the forward ordering.
func (s JobState) Rank() int {
	return stateRank[s]
}

// SongRequest is the immutable input supplied at job creation.
type SongRequest struct {
	Recipient string `json:"recipient"`
	Occasion  string `json:"occasion"`
	Style     string `json:"style"`
	Language  string `json:"language,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Artifacts holds the outputs produced across the pipeline stages. Each field
// is independently settable; a non-empty value is never replaced by an empty
// one, but a provider revision may replace it with a different non-empty value.
type Artifacts struct {
	Lyrics      string `json:"lyrics,omitempty"`
	AudioURL    string `json:"audio_url,omitempty"`
	AltAudioURL string `json:"alt_audio_url,omitempty"`
	CoverURL    string `json:"cover_url,omitempty"`
}

// Merge unions the non-empty fields of delta into a. Empty delta fields leave
// the current value alone, so applying the same delta twice is a no-op.
func (a *Artifacts) Merge(delta Artifacts) {
	if delta.Lyrics != "" {
		a.Lyrics = delta.Lyrics
	}
	if delta.AudioURL != "" {
		a.AudioURL = delta.AudioURL
	}
	if delta.AltAudioURL != "" {
		a.AltAudioURL = delta.AltAudioURL
	}
	if delta.CoverURL != "" {
		a.CoverURL = delta.CoverURL
	}
}

// Job encapsulates one end-to-end generation request tracked through its lifecycle.
type Job struct {
	ID            string
	ProviderJobID string
	State         JobState
	Request       SongRequest
	Artifacts     Artifacts
	Failure       string
	LastSource    Source
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Snapshot is an immutable read of a job at a point in time.
type Snapshot struct {
	ID        string    `json:"id"`
	State     JobState  `json:"state"`
	Artifacts Artifacts `json:"artifacts"`
	Failure   string    `json:"failure,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot copies the job's externally visible fields.
func (j *Job) Snapshot() Snapshot {
	return Snapshot{
		ID:        j.ID,
		State:     j.State,
		Artifacts: j.Artifacts,
		Failure:   j.Failure,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// Observation is a single reported status update from any channel.
type Observation struct {
	State     JobState
	Artifacts Artifacts
	Source    Source
	Failure   string
}
