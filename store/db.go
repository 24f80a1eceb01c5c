package store

import "github.com/vantage-agent/vantage/internal/models"

// DB is the local session journal interface. The journal exists solely so
// that a crashed agent can reconcile its open session on the next start;
// observation data is never persisted locally beyond the in-memory queue.
type DB interface {
	// SaveSession creates or overwrites a journal entry for the session.
	SaveSession(sess *models.Session) error
	// OpenSessions returns every journaled session without an end time,
	// oldest first.
	OpenSessions() ([]models.Session, error)
	// DeleteSession removes a session from the journal once it has been
	// closed and acknowledged by the remote store.
	DeleteSession(sess *models.Session) error
	// Close ends the database connection.
	Close() error
}
