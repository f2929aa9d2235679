package dbbadger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
	"github.com/vulpemventures/quorum/internal/core/domain"
)

type signerRepository struct {
	store            *badgerhold.Store
	chEvents         chan domain.SignerEvent
	externalChEvents chan domain.SignerEvent
	lock             *sync.Mutex
	closed           bool

	log func(format string, a ...interface{})
}

func NewSignerRepository(store *badgerhold.Store) domain.SignerRepository {
	return newSignerRepository(store)
}

func newSignerRepository(store *badgerhold.Store) *signerRepository {
	chEvents := make(chan domain.SignerEvent)
	externalChEvents := make(chan domain.SignerEvent)
	lock := &sync.Mutex{}
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("signer repository: %s", format)
		log.Debugf(format, a...)
	}
	return &signerRepository{
		store:            store,
		chEvents:         chEvents,
		externalChEvents: externalChEvents,
		lock:             lock,
		log:              logFn,
	}
}

func (r *signerRepository) AddSigner(
	ctx context.Context, signer *domain.Signer,
) error {
	s := *signer
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().Unix()
	}
	if err := r.insertSigner(ctx, s); err != nil {
		if err == badgerhold.ErrKeyExists {
			return domain.ErrSignerAlreadyExisting
		}
		return err
	}

	go r.publishEvent(domain.SignerEvent{
		EventType:   domain.SignerAdded,
		Fingerprint: s.Fingerprint,
		Alias:       s.Alias,
	})
	return nil
}

func (r *signerRepository) GetSigner(
	ctx context.Context, fingerprint domain.Fingerprint,
) (*domain.Signer, error) {
	return r.getSigner(ctx, fingerprint)
}

func (r *signerRepository) ListSigners(
	ctx context.Context,
) ([]*domain.Signer, error) {
	var signers []domain.Signer
	var err error
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &signers, nil)
	} else {
		err = r.store.Find(&signers, nil)
	}
	if err != nil {
		return nil, err
	}

	res := make([]*domain.Signer, 0, len(signers))
	for i := range signers {
		res = append(res, &signers[i])
	}
	return res, nil
}

func (r *signerRepository) SetAlias(
	ctx context.Context, fingerprint domain.Fingerprint, alias string,
) error {
	signer, err := r.getSigner(ctx, fingerprint)
	if err != nil {
		return err
	}

	signer.Alias = alias
	if err := r.updateSigner(ctx, *signer); err != nil {
		return err
	}

	go r.publishEvent(domain.SignerEvent{
		EventType:   domain.SignerAliasUpdated,
		Fingerprint: fingerprint,
		Alias:       alias,
	})
	return nil
}

func (r *signerRepository) MarkRegistered(
	ctx context.Context, fingerprint domain.Fingerprint, descriptor string,
) error {
	signer, err := r.getSigner(ctx, fingerprint)
	if err != nil {
		return err
	}
	if signer.IsRegistered(descriptor) {
		return nil
	}

	signer.RegisteredDescriptors = append(signer.RegisteredDescriptors, descriptor)
	if err := r.updateSigner(ctx, *signer); err != nil {
		return err
	}

	go r.publishEvent(domain.SignerEvent{
		EventType:   domain.SignerDescriptorRegistered,
		Fingerprint: fingerprint,
		Descriptor:  descriptor,
	})
	return nil
}

func (r *signerRepository) DeleteSigner(
	ctx context.Context, fingerprint domain.Fingerprint,
) error {
	var err error
	key := fingerprint.String()
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxDelete(tx, key, domain.Signer{})
	} else {
		err = r.store.Delete(key, domain.Signer{})
	}
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return domain.ErrSignerNotFound
		}
		return err
	}

	go r.publishEvent(domain.SignerEvent{
		EventType:   domain.SignerDeleted,
		Fingerprint: fingerprint,
	})
	return nil
}

func (r *signerRepository) GetEventChannel() chan domain.SignerEvent {
	return r.externalChEvents
}

func (r *signerRepository) insertSigner(
	ctx context.Context, signer domain.Signer,
) error {
	key := signer.Fingerprint.String()
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxInsert(tx, key, signer)
	}
	return r.store.Insert(key, signer)
}

func (r *signerRepository) getSigner(
	ctx context.Context, fingerprint domain.Fingerprint,
) (*domain.Signer, error) {
	var err error
	var signer domain.Signer

	key := fingerprint.String()
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxGet(tx, key, &signer)
	} else {
		err = r.store.Get(key, &signer)
	}

	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrSignerNotFound
		}
		return nil, err
	}

	return &signer, nil
}

func (r *signerRepository) updateSigner(
	ctx context.Context, signer domain.Signer,
) error {
	key := signer.Fingerprint.String()
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxUpdate(tx, key, signer)
	}
	return r.store.Update(key, signer)
}

func (r *signerRepository) publishEvent(event domain.SignerEvent) {
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

func (r *signerRepository) reset() {
	if err := r.store.Badger().DropAll(); err != nil {
		r.log("reset: %s", err)
	}
}

func (r *signerRepository) close() {
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
