package store

import (
	"context"

	"github.com/dunamismax/pixelvariants/internal/domain"
)

// RunStore persists pipeline runs. Get returns domain.ErrRunNotFound for
// unknown ids; Complete and Fail do the same and never revive a run that is
// already terminal.
type RunStore interface {
	Create(ctx context.Context, run domain.Run) error
	Get(ctx context.Context, id string) (domain.Run, error)
	Complete(ctx context.Context, id string, result domain.RunResult) (domain.Run, error)
	Fail(ctx context.Context, id, reason string) (domain.Run, error)
}
