package tiered

import (
	"context"

	"github.com/clinicflow/intake/questionnaire"
)

// Tier is one ranked durable fallback data source, consulted in order
// while the primary store is unavailable. Get reports an absent entry as
// questionnaire.ErrNotFound; any other error means the tier failed and
// the next one is tried.
type Tier interface {
	Name() string
	Get(ctx context.Context, actionID string) (*questionnaire.Bundle, error)
	Put(ctx context.Context, actionID string, bundle *questionnaire.Bundle) error
	Delete(ctx context.Context, actionID string) error
}
