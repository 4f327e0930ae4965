package domain

import "time"

// GenerationStatus enumerates the lifecycle states of a staging job.
type GenerationStatus string

const (
	StatusQueued     GenerationStatus = "queued"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
)

// Mode enumerates supported transformation modes.
type Mode string

const (
	ModeStaging Mode = "staging"
	ModeRemoval Mode = "removal"
)

// Generation is one submitted photo's unit of asynchronous staging work
// together with its tracked lifecycle. OriginalURL is an opaque source
// reference: either a public object-storage URL or an inline data URI.
type Generation struct {
	ID           string
	UserID       string
	OriginalURL  string
	GeneratedURL string
	Status       GenerationStatus
	Prompt       string
	Style        string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Rank orders statuses along the lifecycle. The two terminal states
// share a rank: neither supersedes the other, first observed wins.
func (s GenerationStatus) Rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transitions are permitted.
func (s GenerationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known lifecycle states.
func (s GenerationStatus) Valid() bool {
	return s.Rank() >= 0
}

// IsBatch reports whether the generation was submitted as part of a
// multi-photo batch. Batch members suppress their per-item
// notifications in favor of one aggregate notice.
func (g *Generation) IsBatch() bool {
	if g.Metadata == nil {
		return false
	}
	b, _ := g.Metadata["batch"].(bool)
	return b
}

// GenerationParams carries the user-selected options for a submission.
// Refinement marks a re-run of a completed generation with a prompt
// override; RefinesID links the new record back to its source.
type GenerationParams struct {
	Mode       Mode
	Style      string
	Prompt     string
	Batch      bool
	Refinement bool
	RefinesID  string
}

// Metadata builds the free-form metadata map stored on the record.
func (p GenerationParams) Metadata() map[string]any {
	m := map[string]any{
		"mode":  string(p.Mode),
		"style": p.Style,
	}
	if p.Batch {
		m["batch"] = true
	}
	if p.RefinesID != "" {
		m["refines"] = p.RefinesID
	}
	return m
}
