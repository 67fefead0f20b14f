package model

import "time"

// Analysis status constants. The first five mirror the remote analyzer's own
// document statuses; the rest are reached only through client-side events
// (timers, transport failures, caller cancellation).
const (
	StatusSubmitting     = "submitting"
	StatusQueued         = "queued"
	StatusProcessing     = "processing"
	StatusDone           = "done"
	StatusError          = "error"
	StatusTimedOut       = "timed_out"
	StatusUploadTimedOut = "upload_timed_out"
	StatusCanceled       = "canceled"
)

// Publish phase constants for the gated secondary upload.
const (
	PhaseLocked    = "locked"
	PhaseEligible  = "eligible"
	PhaseUploading = "uploading"
	PhaseUploaded  = "uploaded"
)

// DefaultScoreThreshold is the score an analysis must reach before the
// publish action unlocks, when no threshold is configured.
const DefaultScoreThreshold = 10

// validTransitions maps each status to the set of statuses it may transition to.
// Terminal statuses have no outgoing edges; a job that reached one never
// re-enters the lifecycle under the same id.
var validTransitions = map[string]map[string]bool{
	StatusSubmitting: {
		StatusQueued:         true,
		StatusError:          true,
		StatusUploadTimedOut: true,
		StatusCanceled:       true,
	},
	StatusQueued: {
		StatusProcessing: true,
		StatusDone:       true,
		StatusError:      true,
		StatusTimedOut:   true,
		StatusCanceled:   true,
	},
	StatusProcessing: {
		StatusDone:     true,
		StatusError:    true,
		StatusTimedOut: true,
		StatusCanceled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TerminalStatus reports whether a status admits no further transitions.
func TerminalStatus(status string) bool {
	switch status {
	case StatusDone, StatusError, StatusTimedOut, StatusUploadTimedOut, StatusCanceled:
		return true
	}
	return false
}

// Finding is a single rule evaluation inside an analysis result.
type Finding struct {
	RuleID string `json:"ruleId"`
	OK     bool   `json:"ok"`
	Note   string `json:"note,omitempty"`
}

// Result is the payload the analyzer attaches to a done analysis.
// Field names match the analyzer's wire format.
type Result struct {
	Score       float64   `json:"score"`
	Summary     string    `json:"summary"`
	Findings    []Finding `json:"findings,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

// Empty reports whether the analyzer reported success without producing any
// usable content. Such results render as incomplete rather than as errors.
func (r *Result) Empty() bool {
	return r == nil || (r.Score == 0 && r.Summary == "" && len(r.Findings) == 0 && len(r.Suggestions) == 0)
}

// Qualifies reports whether the result's score meets the publish threshold.
func (r *Result) Qualifies(threshold float64) bool {
	return r != nil && r.Score >= threshold
}

// Snapshot is a point-in-time view of an analysis document as delivered by
// the change feed. Result is present only for done, Error only for error.
type Snapshot struct {
	Status    string    `json:"status"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Analysis represents one remote analysis job tracked end-to-end.
type Analysis struct {
	ID           string     `json:"id"`
	Owner        string     `json:"owner"`
	FileName     string     `json:"file_name,omitempty"`
	Status       string     `json:"status"`
	Result       *Result    `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	Category     string     `json:"category,omitempty"`
	Qualifies    bool       `json:"qualifies"`
	PublishPhase string     `json:"publish_phase"`
	TargetLink   string     `json:"target_link,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// NewAnalysis creates an analysis in its initial state for the given owner.
func NewAnalysis(owner, fileName string) *Analysis {
	now := time.Now().UTC()
	return &Analysis{
		ID:           NewID(),
		Owner:        owner,
		FileName:     fileName,
		Status:       StatusSubmitting,
		PublishPhase: PhaseLocked,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
