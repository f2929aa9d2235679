package dbbadger

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
	"github.com/vulpemventures/quorum/internal/core/domain"
)

type sessionRepository struct {
	store            *badgerhold.Store
	chEvents         chan domain.SessionEvent
	externalChEvents chan domain.SessionEvent
	lock             *sync.Mutex
	closed           bool

	log func(format string, a ...interface{})
}

func NewSessionRepository(store *badgerhold.Store) domain.SessionRepository {
	return newSessionRepository(store)
}

func newSessionRepository(store *badgerhold.Store) *sessionRepository {
	chEvents := make(chan domain.SessionEvent)
	externalChEvents := make(chan domain.SessionEvent)
	lock := &sync.Mutex{}
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("session repository: %s", format)
		log.Debugf(format, a...)
	}
	return &sessionRepository{
		store:            store,
		chEvents:         chEvents,
		externalChEvents: externalChEvents,
		lock:             lock,
		log:              logFn,
	}
}

func (r *sessionRepository) AddSession(
	ctx context.Context, session *domain.ArchivedSession,
) error {
	var err error
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxInsert(tx, session.ID, *session)
	} else {
		err = r.store.Insert(session.ID, *session)
	}
	if err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("session %s already archived", session.ID)
		}
		return err
	}

	go r.publishEvent(domain.SessionEvent{
		EventType: domain.SessionArchived,
		Session:   session,
	})
	return nil
}

func (r *sessionRepository) GetSession(
	ctx context.Context, id string,
) (*domain.ArchivedSession, error) {
	var err error
	var session domain.ArchivedSession

	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxGet(tx, id, &session)
	} else {
		err = r.store.Get(id, &session)
	}
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) GetSessionsForTxid(
	ctx context.Context, txid string,
) ([]*domain.ArchivedSession, error) {
	var sessions []domain.ArchivedSession
	var err error

	query := badgerhold.Where("Txid").Eq(txid).SortBy("CreatedAt")
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &sessions, query)
	} else {
		err = r.store.Find(&sessions, query)
	}
	if err != nil {
		return nil, err
	}

	res := make([]*domain.ArchivedSession, 0, len(sessions))
	for i := range sessions {
		res = append(res, &sessions[i])
	}
	return res, nil
}

func (r *sessionRepository) GetEventChannel() chan domain.SessionEvent {
	return r.externalChEvents
}

func (r *sessionRepository) publishEvent(event domain.SessionEvent) {
	r.lock.Lock()
	defer r.lock.Unlock()

	// events produced after close are dropped.
	if r.closed {
		return
	}

	r.log("publish event %s", event.EventType)
	r.chEvents <- event

	// send over channel without blocking in case nobody is listening.
	select {
	case r.externalChEvents <- event:
	default:
	}
}

func (r *sessionRepository) reset() {
	if err := r.store.Badger().DropAll(); err != nil {
		r.log("reset: %s", err)
	}
}

func (r *sessionRepository) close() {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.store.Close()
	close(r.chEvents)
	close(r.externalChEvents)
}
