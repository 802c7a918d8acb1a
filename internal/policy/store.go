// package policy persists per-workspace autopilot configuration. Validation
// of updates (budget sign, critical-tier exclusion) is the governance
// engine's job; this package is storage only.
package policy

import (
	"context"

	"github.com/google/uuid"

	"github.com/pilotdesk/governance/internal/models"
)

// Store is the autopilot policy persistence abstraction.
type Store interface {
	// Get returns the stored policy for the workspace, or the default policy
	// when none was ever configured. It never reports absence as an error.
	Get(ctx context.Context, workspaceID uuid.UUID) (models.AutopilotPolicy, error)

	// Put upserts the policy and stamps UpdatedAt.
	Put(ctx context.Context, p models.AutopilotPolicy) (models.AutopilotPolicy, error)

	Ping(ctx context.Context) error
}
