package rehearsal

import (
	"context"

	"github.com/conorfennell/studyfrog/internal/domain"
)

// Store is the persistence contract consumed by the rehearsal core.
// Lookups wrap domain.ErrNotFound when a key does not resolve.
type Store interface {
	Stack(ctx context.Context, key string) (domain.Stack, error)
	// Contents loads many items at once. Unknown keys are absent from the map.
	Contents(ctx context.Context, keys []string) (map[string]domain.Content, error)
	Difficulty(ctx context.Context, key string) (domain.Difficulty, error)
	Priority(ctx context.Context, key string) (domain.Priority, error)

	// CreateRun persists a new run and its items, assigning their keys.
	CreateRun(ctx context.Context, run domain.RehearsalRun, items []domain.RehearsalRunItem) (domain.RehearsalRun, []domain.RehearsalRunItem, error)
	// SaveProgress updates a run and one of its items together.
	SaveProgress(ctx context.Context, run domain.RehearsalRun, item domain.RehearsalRunItem) error
	// RecordAction persists the action, appends its key to item.Actions and
	// updates the item, returning both as stored.
	RecordAction(ctx context.Context, item domain.RehearsalRunItem, action domain.RehearsalAction) (domain.RehearsalRunItem, domain.RehearsalAction, error)
	// CloseRun updates a finished or abandoned run and the content whose view
	// history changed, in one transaction.
	CloseRun(ctx context.Context, run domain.RehearsalRun, contents []domain.Content) error
}

// RunLoader reads back a stored run so an interrupted session can continue.
type RunLoader interface {
	Run(ctx context.Context, key string) (domain.RehearsalRun, error)
	RunItems(ctx context.Context, runKey string) ([]domain.RehearsalRunItem, error)
	Actions(ctx context.Context, runItemKey string) ([]domain.RehearsalAction, error)
}
