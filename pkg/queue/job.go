package queue

import (
	"context"
	"encoding/json"
)

// Job handles every message of one type.
type Job interface {
	Name() string
	Type() string

	// Handle runs the job. A returned error schedules a retry until RetryLimit.
	Handle(ctx context.Context, payload json.RawMessage) error
}
