// Package publish implements the gated secondary action: pushing a finished,
// qualifying analysis to the external host. The gate unlocks only once the
// parent analysis is done with a score at or above the threshold.
package publish

import (
	"context"
	"errors"
	"sync"

	"github.com/dmoralesc/vigia/internal/model"
)

var (
	// ErrNotEligible is returned when invoking a locked gate.
	ErrNotEligible = errors.New("analysis does not qualify for publishing")
	// ErrUploadInProgress is returned when invoking a gate that is already
	// uploading. The second call is rejected before any remote call is made.
	ErrUploadInProgress = errors.New("publish already in progress")
	// ErrAlreadyUploaded is returned when invoking a gate whose upload
	// completed; uploaded is terminal.
	ErrAlreadyUploaded = errors.New("analysis already published")
)

// Invoker performs the remote upload call.
type Invoker interface {
	Publish(ctx context.Context, jobID string) (string, error)
}

// Evaluate derives the initial gate phase from a terminal done result.
// Pure function: locked unless the score meets the threshold.
func Evaluate(result *model.Result, threshold float64) string {
	if result.Qualifies(threshold) {
		return model.PhaseEligible
	}
	return model.PhaseLocked
}

// Gate owns the publish lifecycle for one analysis:
// locked → eligible → uploading → uploaded. A failed upload returns to
// eligible and may be retried; uploaded is terminal.
type Gate struct {
	jobID   string
	invoker Invoker

	mu    sync.Mutex
	phase string
	link  string
}

// NewGate creates a locked gate for the given analysis.
func NewGate(jobID string, invoker Invoker) *Gate {
	return &Gate{
		jobID:   jobID,
		invoker: invoker,
		phase:   model.PhaseLocked,
	}
}

// RestoreGate rebuilds a gate from persisted state, for jobs whose tracker is
// long gone.
func RestoreGate(jobID string, invoker Invoker, phase, link string) *Gate {
	g := NewGate(jobID, invoker)
	switch phase {
	case model.PhaseEligible, model.PhaseUploaded:
		g.phase = phase
	}
	g.link = link
	return g
}

// Phase returns the current phase.
func (g *Gate) Phase() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// Link returns the target link, set once the phase is uploaded.
func (g *Gate) Link() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.link
}

// Unlock moves a locked gate to eligible. It reports whether the phase
// changed; unlocking an already unlocked gate is a no-op.
func (g *Gate) Unlock() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.phase != model.PhaseLocked {
		return false
	}
	g.phase = model.PhaseEligible
	return true
}

// Invoke runs the upload. Permitted only from eligible; a concurrent call
// while uploading is rejected synchronously without a remote call. On success
// the gate is uploaded and the target link is returned; on failure the gate
// returns to eligible and the call may be retried.
//
// onPhase, if non-nil, observes each phase change (uploading, then uploaded
// or eligible) while the gate lock is not held.
func (g *Gate) Invoke(ctx context.Context, onPhase func(phase, link string)) (string, error) {
	g.mu.Lock()
	switch g.phase {
	case model.PhaseLocked:
		g.mu.Unlock()
		return "", ErrNotEligible
	case model.PhaseUploading:
		g.mu.Unlock()
		return "", ErrUploadInProgress
	case model.PhaseUploaded:
		g.mu.Unlock()
		return "", ErrAlreadyUploaded
	}
	g.phase = model.PhaseUploading
	g.mu.Unlock()

	if onPhase != nil {
		onPhase(model.PhaseUploading, "")
	}

	link, err := g.invoker.Publish(ctx, g.jobID)

	g.mu.Lock()
	if err != nil {
		g.phase = model.PhaseEligible
		g.mu.Unlock()
		if onPhase != nil {
			onPhase(model.PhaseEligible, "")
		}
		return "", err
	}
	g.phase = model.PhaseUploaded
	g.link = link
	g.mu.Unlock()

	if onPhase != nil {
		onPhase(model.PhaseUploaded, link)
	}
	return link, nil
}
