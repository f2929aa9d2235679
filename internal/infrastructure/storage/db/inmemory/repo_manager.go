package inmemory

import (
	"sync"
	"time"

	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
)

type repoManager struct {
	signerRepository  *signerRepository
	sessionRepository *sessionRepository

	signerEventHandlers  *handlerMap
	sessionEventHandlers *handlerMap
}

func NewRepoManager() ports.RepoManager {
	signerRepo := newSignerRepository()
	sessionRepo := newSessionRepository()

	rm := &repoManager{
		signerRepository:     signerRepo,
		sessionRepository:    sessionRepo,
		signerEventHandlers:  newHandlerMap(),
		sessionEventHandlers: newHandlerMap(),
	}

	go rm.listenToSignerEvents()
	go rm.listenToSessionEvents()

	return rm
}

func (rm *repoManager) SignerRepository() domain.SignerRepository {
	return rm.signerRepository
}

func (rm *repoManager) SessionRepository() domain.SessionRepository {
	return rm.sessionRepository
}

func (rm *repoManager) RegisterHandlerForSignerEvent(
	eventType domain.SignerEventType, handler ports.SignerEventHandler,
) {
	rm.signerEventHandlers.set(int(eventType), handler)
}

func (rm *repoManager) RegisterHandlerForSessionEvent(
	eventType domain.SessionEventType, handler ports.SessionEventHandler,
) {
	rm.sessionEventHandlers.set(int(eventType), handler)
}

func (rm *repoManager) listenToSignerEvents() {
	for event := range rm.signerRepository.chEvents {
		time.Sleep(time.Millisecond)

		if handlers, ok := rm.signerEventHandlers.get(int(event.EventType)); ok {
			for i := range handlers {
				handler := handlers[i]
				go handler.(ports.SignerEventHandler)(event)
			}
		}
	}
}

func (rm *repoManager) listenToSessionEvents() {
	for event := range rm.sessionRepository.chEvents {
		time.Sleep(time.Millisecond)

		if handlers, ok := rm.sessionEventHandlers.get(int(event.EventType)); ok {
			for i := range handlers {
				handler := handlers[i]
				go handler.(ports.SessionEventHandler)(event)
			}
		}
	}
}

func (rm *repoManager) Reset() {
	rm.signerRepository.reset()
	rm.sessionRepository.reset()
}

func (rm *repoManager) Close() {
	rm.signerRepository.close()
	rm.sessionRepository.close()
}

// handlerMap is a util type to prevent race conditions when registering
// or retrieving handlers for events.
type handlerMap struct {
	handlersByEventType map[int][]interface{}
	lock                *sync.RWMutex
}

func newHandlerMap() *handlerMap {
	return &handlerMap{
		handlersByEventType: make(map[int][]interface{}),
		lock:                &sync.RWMutex{},
	}
}

func (m *handlerMap) set(key int, val interface{}) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handlersByEventType[key] = append(m.handlersByEventType[key], val)
}

func (m *handlerMap) get(key int) ([]interface{}, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	val, ok := m.handlersByEventType[key]
	return val, ok
}
