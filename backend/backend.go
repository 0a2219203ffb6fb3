// Package backend holds the authoritative system of record that
// pending drive sessions are eventually committed to.
package backend

import (
	"context"

	"github.com/roadbook/roadbook/session"
)

// Backend commits drive sessions. No transaction semantics are
// assumed: a commit either succeeds whole or fails whole.
type Backend interface {
	CommitDriveSession(ctx context.Context, s *session.DriveSession) error
}
