package model

import "time"

// Job phase constants.
const (
	PhasePending    = "pending"
	PhaseInProgress = "inprogress"
	PhaseSucceeded  = "succeeded"
	PhaseFailed     = "failed"
)

// validTransitions maps each phase to the set of phases it may transition to.
var validTransitions = map[string]map[string]bool{
	PhasePending: {
		PhaseInProgress: true,
		PhaseFailed:     true,
	},
	PhaseInProgress: {
		PhaseSucceeded: true,
		PhaseFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one phase to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether a phase is terminal. Terminal jobs never change again.
func Terminal(phase string) bool {
	return phase == PhaseSucceeded || phase == PhaseFailed
}

// Job represents one submission to the remote design-automation engine.
type Job struct {
	ID         string     `json:"id"`
	Template   string     `json:"template"`
	Phase      string     `json:"phase"`
	WorkItemID string     `json:"work_item_id,omitempty"`
	OutputURLs []string   `json:"output_urls,omitempty"`
	ReportURL  string     `json:"report_url,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// SecondaryBlob is the blob name of the direct-upload output when the
	// secondary storage target was attached at submission time. Internal
	// bookkeeping, never serialized.
	SecondaryBlob string `json:"-"`
}
