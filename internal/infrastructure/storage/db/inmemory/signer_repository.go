package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/vulpemventures/quorum/internal/core/domain"
)

type signerInmemoryStore struct {
	signers map[domain.Fingerprint]*domain.Signer
	lock    *sync.RWMutex
}

type signerRepository struct {
	store            *signerInmemoryStore
	chEvents         chan domain.SignerEvent
	externalChEvents chan domain.SignerEvent
	chLock           *sync.Mutex
	closed           bool
}

func NewSignerRepository() domain.SignerRepository {
	return newSignerRepository()
}

func newSignerRepository() *signerRepository {
	return &signerRepository{
		store: &signerInmemoryStore{
			signers: make(map[domain.Fingerprint]*domain.Signer),
			lock:    &sync.RWMutex{},
		},
		chEvents:         make(chan domain.SignerEvent),
		externalChEvents: make(chan domain.SignerEvent),
		chLock:           &sync.Mutex{},
	}
}

func (r *signerRepository) AddSigner(
	_ context.Context, signer *domain.Signer,
) error {
	r.store.lock.Lock()
	defer r.store.lock.Unlock()

	if _, ok := r.store.signers[signer.Fingerprint]; ok {
		return domain.ErrSignerAlreadyExisting
	}

	s := *signer
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().Unix()
	}
	s.RegisteredDescriptors = append([]string{}, signer.RegisteredDescriptors...)
	r.store.signers[s.Fingerprint] = &s

	go r.publishEvent(domain.SignerEvent{
		EventType:   domain.SignerAdded,
		Fingerprint: s.Fingerprint,
		Alias:       s.Alias,
	})

	return nil
}

func (r *signerRepository) GetSigner(
	_ context.Context, fingerprint domain.Fingerprint,
) (*domain.Signer, error) {
	r.store.lock.RLock()
	defer r.store.lock.RUnlock()

	signer, ok := r.store.signers[fingerprint]
	if !ok {
		return nil, domain.ErrSignerNotFound
	}
	return copySigner(signer), nil
}

func (r *signerRepository) ListSigners(
	_ context.Context,
) ([]*domain.Signer, error) {
	r.store.lock.RLock()
	defer r.store.lock.RUnlock()

	signers := make([]*domain.Signer, 0, len(r.store.signers))
	for _, s := range r.store.signers {
		signers = append(signers, copySigner(s))
	}
	return signers, nil
}

func (r *signerRepository) SetAlias(
	_ context.Context, fingerprint domain.Fingerprint, alias string,
) error {
	r.store.lock.Lock()
	defer r.store.lock.Unlock()

	signer, ok := r.store.signers[fingerprint]
	if !ok {
		return domain.ErrSignerNotFound
	}
	signer.Alias = alias

	go r.publishEvent(domain.SignerEvent{
		EventType:   domain.SignerAliasUpdated,
		Fingerprint: fingerprint,
		Alias:       alias,
	})

	return nil
}

func (r *signerRepository) MarkRegistered(
	_ context.Context, fingerprint domain.Fingerprint, descriptor string,
) error {
	r.store.lock.Lock()
	defer r.store.lock.Unlock()

	signer, ok := r.store.signers[fingerprint]
	if !ok {
		return domain.ErrSignerNotFound
	}
	if signer.IsRegistered(descriptor) {
		return nil
	}
	signer.RegisteredDescriptors = append(
		signer.RegisteredDescriptors, descriptor,
	)

	go r.publishEvent(domain.SignerEvent{
		EventType:   domain.SignerDescriptorRegistered,
		Fingerprint: fingerprint,
		Descriptor:  descriptor,
	})

	return nil
}

func (r *signerRepository) DeleteSigner(
	_ context.Context, fingerprint domain.Fingerprint,
) error {
	r.store.lock.Lock()
	defer r.store.lock.Unlock()

	if _, ok := r.store.signers[fingerprint]; !ok {
		return domain.ErrSignerNotFound
	}
	delete(r.store.signers, fingerprint)

	go r.publishEvent(domain.SignerEvent{
		EventType:   domain.SignerDeleted,
		Fingerprint: fingerprint,
	})

	return nil
}

func (r *signerRepository) GetEventChannel() chan domain.SignerEvent {
	return r.externalChEvents
}

func (r *signerRepository) publishEvent(event domain.SignerEvent) {
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

func (r *signerRepository) reset() {
	r.store.lock.Lock()
	defer r.store.lock.Unlock()

	r.store.signers = make(map[domain.Fingerprint]*domain.Signer)
}

func (r *signerRepository) close() {
	r.chLock.Lock()
	defer r.chLock.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.chEvents)
	close(r.externalChEvents)
}

func copySigner(s *domain.Signer) *domain.Signer {
	cp := *s
	cp.RegisteredDescriptors = append([]string{}, s.RegisteredDescriptors...)
	return &cp
}
