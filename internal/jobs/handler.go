package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/roadbook/roadbook/syncer"
)

// PassRunner runs one reconciliation pass over the pending queue.
type PassRunner interface {
	RunPass(ctx context.Context) syncer.PassResult
}

// NewSyncHandler returns the asynq handler for TaskSyncPending. A pass
// that leaves commit failures behind returns an error so asynq retries
// the task; a malformed payload is archived instead, since no retry
// can fix it. Skipped and clean passes complete the task.
func NewSyncHandler(rec PassRunner, logger zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p SyncPendingPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			logger.Error().Err(err).Msg("bad sync payload")
			return fmt.Errorf("decode sync payload: %v: %w", err, asynq.SkipRetry)
		}
		start := time.Now()
		res := rec.RunPass(ctx)
		if !res.Ran {
			logger.Debug().Str("reason", p.Reason).Msg("sync pass skipped (offline or already syncing)")
			return nil
		}
		logger.Info().
			Str("reason", p.Reason).
			Int("committed", res.Committed).
			Int("deferred", res.Deferred).
			Int("failed", res.Failed).
			Dur("duration", time.Since(start)).
			Msg("scheduled sync pass finished")
		if res.Failed > 0 {
			return fmt.Errorf("sync pass left %d commit failures", res.Failed)
		}
		return nil
	}
}
