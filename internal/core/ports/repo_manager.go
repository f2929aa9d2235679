package ports

import (
	"github.com/vulpemventures/quorum/internal/core/domain"
)

type SignerEventHandler func(event domain.SignerEvent)
type SessionEventHandler func(event domain.SessionEvent)

// RepoManager is the abstraction for any kind of service intended to manage
// domain repositories implementations of the same concrete type.
type RepoManager interface {
	// SignerRepository returns the signer repository.
	SignerRepository() domain.SignerRepository
	// SessionRepository returns the archived sessions repository.
	SessionRepository() domain.SessionRepository

	// RegisterHandlerForSignerEvent registers an handler function, executed
	// whenever the given event type occurs.
	RegisterHandlerForSignerEvent(
		eventType domain.SignerEventType, handler SignerEventHandler,
	)
	// RegisterHandlerForSessionEvent registers an handler function, executed
	// whenever the given event type occurs.
	RegisterHandlerForSessionEvent(
		eventType domain.SessionEventType, handler SessionEventHandler,
	)

	// Reset brings all the repos to their initial state by deleting any persisted data.
	Reset()

	// Close closes the connection with all concrete repositories
	// implementations.
	Close()
}
