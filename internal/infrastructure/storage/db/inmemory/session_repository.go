package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vulpemventures/quorum/internal/core/domain"
)

type sessionInmemoryStore struct {
	sessions map[string]*domain.ArchivedSession
	byTxid   map[string][]string
	lock     *sync.RWMutex
}

type sessionRepository struct {
	store            *sessionInmemoryStore
	chEvents         chan domain.SessionEvent
	externalChEvents chan domain.SessionEvent
	chLock           *sync.Mutex
	closed           bool
}

func NewSessionRepository() domain.SessionRepository {
	return newSessionRepository()
}

func newSessionRepository() *sessionRepository {
	return &sessionRepository{
		store: &sessionInmemoryStore{
			sessions: make(map[string]*domain.ArchivedSession),
			byTxid:   make(map[string][]string),
			lock:     &sync.RWMutex{},
		},
		chEvents:         make(chan domain.SessionEvent),
		externalChEvents: make(chan domain.SessionEvent),
		chLock:           &sync.Mutex{},
	}
}

func (r *sessionRepository) AddSession(
	_ context.Context, session *domain.ArchivedSession,
) error {
	r.store.lock.Lock()
	defer r.store.lock.Unlock()

	if _, ok := r.store.sessions[session.ID]; ok {
		return fmt.Errorf("session %s already archived", session.ID)
	}

	r.store.sessions[session.ID] = session
	r.store.byTxid[session.Txid] = append(r.store.byTxid[session.Txid], session.ID)

	go r.publishEvent(domain.SessionEvent{
		EventType: domain.SessionArchived,
		Session:   session,
	})

	return nil
}

func (r *sessionRepository) GetSession(
	_ context.Context, id string,
) (*domain.ArchivedSession, error) {
	r.store.lock.RLock()
	defer r.store.lock.RUnlock()

	session, ok := r.store.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (r *sessionRepository) GetSessionsForTxid(
	_ context.Context, txid string,
) ([]*domain.ArchivedSession, error) {
	r.store.lock.RLock()
	defer r.store.lock.RUnlock()

	ids := r.store.byTxid[txid]
	sessions := make([]*domain.ArchivedSession, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, r.store.sessions[id])
	}
	return sessions, nil
}

func (r *sessionRepository) GetEventChannel() chan domain.SessionEvent {
	return r.externalChEvents
}

func (r *sessionRepository) publishEvent(event domain.SessionEvent) {
	r.chLock.Lock()
	defer r.chLock.Unlock()

	// events produced after close are dropped.
	if r.closed {
		return
	}

	r.chEvents <- event
	// send over channel without blocking in case nobody is listening.
	select {
	case r.externalChEvents <- event:
	default:
	}
}

func (r *sessionRepository) reset() {
	r.store.lock.Lock()
	defer r.store.lock.Unlock()

	r.store.sessions = make(map[string]*domain.ArchivedSession)
	r.store.byTxid = make(map[string][]string)
}

func (r *sessionRepository) close() {
	r.chLock.Lock()
	defer r.chLock.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.chEvents)
	close(r.externalChEvents)
}
