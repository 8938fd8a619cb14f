package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrity replays ledger entries and compares them with cached balances.
	TaskGLIntegrity = "ledger:integrity"
	// TaskInventoryRevaluation replays product movements to rebuild stock and cost caches.
	TaskInventoryRevaluation = "inventory:revaluation"
)

// GLIntegrityPayload scopes an integrity check; a nil outlet checks every outlet.
type GLIntegrityPayload struct {
	OutletID    uuid.UUID `json:"outlet_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewGLIntegrityTask constructs an Asynq task for the balance integrity check.
func NewGLIntegrityTask(payload GLIntegrityPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// InventoryRevaluationPayload selects the products to replay. No product ids means
// every product of the outlet, and a nil outlet means every product.
type InventoryRevaluationPayload struct {
	OutletID   uuid.UUID   `json:"outlet_id"`
	ProductIDs []uuid.UUID `json:"product_ids,omitempty"`
}

// NewInventoryRevaluationTask constructs an Asynq task for inventory revaluation.
func NewInventoryRevaluationTask(payload InventoryRevaluationPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryRevaluation, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
