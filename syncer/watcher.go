package syncer

import (
	"context"

	"github.com/rs/zerolog"
)

// Watcher starts a reconciliation pass whenever connectivity
// transitions to online while the queue holds records. Manual and
// scheduled triggers call Reconciler.RunPass directly; all triggers
// share the reconciler's not-already-syncing guard.
type Watcher struct {
	conn Notifier
	rec  *Reconciler
	log  zerolog.Logger
}

// NewWatcher wires a Watcher.
func NewWatcher(conn Notifier, rec *Reconciler, logger zerolog.Logger) *Watcher {
	return &Watcher{
		conn: conn,
		rec:  rec,
		log:  logger.With().Str("component", "sync-watcher").Logger(),
	}
}

// Run blocks until ctx is done, triggering passes on offline-to-online
// transitions.
func (w *Watcher) Run(ctx context.Context) {
	events, cancel := w.conn.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-events:
			if !ok {
				return
			}
			if !online {
				continue
			}
			if len(w.rec.mirror.All()) == 0 {
				continue
			}
			w.log.Info().Msg("back online, draining pending queue")
			w.rec.RunPass(ctx)
		}
	}
}
