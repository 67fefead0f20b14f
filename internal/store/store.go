package store

import (
	"context"
	"errors"

	"github.com/dmoralesc/vigia/internal/model"
)

// ErrNotFound is returned when an analysis is not found.
var ErrNotFound = errors.New("analysis not found")

// ErrInvalidTransition is returned when a status update would violate the
// monotonic lifecycle (in particular, when it would move a terminal analysis
// back into a live state).
var ErrInvalidTransition = errors.New("invalid status transition")

// AnalysisStats holds aggregate statistics over all tracked analyses.
type AnalysisStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	AvgScore      float64        `json:"avg_score"`
	QualifyRate   float64        `json:"qualify_rate"`
	Published     int            `json:"published"`
}

// Store defines the persistence operations for analyses.
type Store interface {
	CreateAnalysis(ctx context.Context, a *model.Analysis) error
	GetAnalysis(ctx context.Context, id string) (*model.Analysis, error)
	ListAnalyses(ctx context.Context, limit, offset int) ([]*model.Analysis, int, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateResult(ctx context.Context, id string, result *model.Result, qualifies bool) error
	UpdateFailure(ctx context.Context, id, status, category, rawMessage string) error
	UpdatePublish(ctx context.Context, id, phase, targetLink string) error
	GetStats(ctx context.Context) (*AnalysisStats, error)
	Close() error
}
