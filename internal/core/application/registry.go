package application

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
)

// SignerUpdate is a delta published by the Registry. Either Record or Locked
// is defined. Removed is set when a locked device went away or got unlocked.
type SignerUpdate struct {
	Record  *domain.SignerRecord
	Locked  *domain.LockedDevice
	Removed bool
}

type UpsertOption func(*upsertOptions)

type upsertOptions struct {
	adapter ports.SignerAdapter
	gate    func(*domain.SignerRecord)
	fresh   bool
}

// WithAdapter binds the given adapter to the upserted record.
func WithAdapter(adapter ports.SignerAdapter) UpsertOption {
	return func(o *upsertOptions) {
		o.adapter = adapter
	}
}

// WithGate makes the given function run, with the registry lock held,
// whenever the upsert moves the record into StateReady.
func WithGate(gate func(*domain.SignerRecord)) UpsertOption {
	return func(o *upsertOptions) {
		o.gate = gate
	}
}

// Fresh makes the upsert clear any per-connection state of the record before
// applying the probe result.
func Fresh() UpsertOption {
	return func(o *upsertOptions) {
		o.fresh = true
	}
}

// Registry is the single owner of the signer records. Every mutation is
// serialized and every read returns a copy, so that consumers never observe
// a record mid-mutation.
// Records are listed in insertion order. Locked devices that didn't report
// their fingerprint yet are tracked separately by adapter id.
type Registry struct {
	lock       *sync.RWMutex
	records    map[domain.Fingerprint]*domain.SignerRecord
	order      []domain.Fingerprint
	adapters   map[domain.Fingerprint]ports.SignerAdapter
	adapterIDs map[string]domain.Fingerprint

	locked         map[string]*domain.LockedDevice
	lockedOrder    []string
	lockedAdapters map[string]ports.SignerAdapter

	updates *feed[SignerUpdate]
	now     func() time.Time

	log func(format string, a ...interface{})
}

func NewRegistry() *Registry {
	ensureMetrics()

	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("registry: %s", format)
		log.Debugf(format, a...)
	}
	return &Registry{
		lock:           &sync.RWMutex{},
		records:        make(map[domain.Fingerprint]*domain.SignerRecord),
		adapters:       make(map[domain.Fingerprint]ports.SignerAdapter),
		adapterIDs:     make(map[string]domain.Fingerprint),
		locked:         make(map[string]*domain.LockedDevice),
		lockedAdapters: make(map[string]ports.SignerAdapter),
		updates: newFeed[SignerUpdate](func() {
			log.Warn("registry: subscriber too slow, dropped signer update")
		}),
		now: time.Now,
		log: logFn,
	}
}

// Upsert applies the given probe result to the record with the given
// fingerprint, creating it if not existing. The kind is only used when the
// record is created.
func (r *Registry) Upsert(
	fingerprint domain.Fingerprint, kind domain.SignerKind,
	presence domain.Presence, opts ...UpsertOption,
) (domain.StateChange, error) {
	if fingerprint.IsZero() {
		return domain.StateChange{}, domain.ErrFingerprintMissing
	}

	o := &upsertOptions{}
	for _, opt := range opts {
		opt(o)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	rec, created := r.getOrCreate(fingerprint, kind)
	prev := *rec

	if o.fresh {
		rec.ResetConnection()
	}
	rec.ApplyProbe(presence, r.now())

	if o.adapter != nil {
		r.adapters[fingerprint] = o.adapter
		r.adapterIDs[o.adapter.ID()] = fingerprint
	}

	enteredReady := rec.State == domain.StateReady &&
		(created || o.fresh || prev.State != domain.StateReady)
	if enteredReady && o.gate != nil {
		o.gate(rec)
	}

	change := r.commit(prev, rec, created)
	r.log("upsert %s: %s -> %s", fingerprint, change.From, change.To)
	return change, nil
}

// Update applies the given function to the record with the given
// fingerprint. The record must exist.
func (r *Registry) Update(
	fingerprint domain.Fingerprint, updateFn func(*domain.SignerRecord),
) (domain.StateChange, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	rec, ok := r.records[fingerprint]
	if !ok {
		return domain.StateChange{}, domain.ErrSignerNotFound
	}
	prev := *rec
	updateFn(rec)
	return r.commit(prev, rec, false), nil
}

// Restore makes sure a record exists for the given signer, restoring its
// alias. It's used to load persisted signers at startup.
func (r *Registry) Restore(
	fingerprint domain.Fingerprint, kind domain.SignerKind, alias string,
) domain.StateChange {
	r.lock.Lock()
	defer r.lock.Unlock()

	rec, created := r.getOrCreate(fingerprint, kind)
	prev := *rec
	if alias != "" {
		rec.Alias = alias
	}
	return r.commit(prev, rec, created)
}

// Get returns a copy of the record with the given fingerprint.
func (r *Registry) Get(fingerprint domain.Fingerprint) (domain.SignerRecord, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	rec, ok := r.records[fingerprint]
	if !ok {
		return domain.SignerRecord{}, domain.ErrSignerNotFound
	}
	return *rec, nil
}

// List returns a copy of all records in insertion order.
func (r *Registry) List() []domain.SignerRecord {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]domain.SignerRecord, 0, len(r.order))
	for _, fp := range r.order {
		list = append(list, *r.records[fp])
	}
	return list
}

func (r *Registry) Select(fingerprint domain.Fingerprint) error {
	return r.toggle(fingerprint, (*domain.SignerRecord).Select)
}

func (r *Registry) Deselect(fingerprint domain.Fingerprint) error {
	return r.toggle(fingerprint, (*domain.SignerRecord).Deselect)
}

func (r *Registry) SetAlias(fingerprint domain.Fingerprint, alias string) error {
	_, err := r.Update(fingerprint, func(rec *domain.SignerRecord) {
		rec.Alias = alias
	})
	return err
}

// BeginSigning moves all the given signers to StateSigning. Either all of
// them are registered or selected, or none is touched and
// ErrParticipantNotReady is returned.
func (r *Registry) BeginSigning(fingerprints []domain.Fingerprint) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, fp := range fingerprints {
		rec, ok := r.records[fp]
		if !ok {
			return fmt.Errorf(
				"%w: %s: %s", domain.ErrParticipantNotReady, fp, domain.ErrSignerNotFound,
			)
		}
		if !rec.CanSign() {
			return fmt.Errorf(
				"%w: %s is %s", domain.ErrParticipantNotReady, rec.DisplayName(), rec.State,
			)
		}
	}

	for _, fp := range fingerprints {
		rec := r.records[fp]
		prev := *rec
		rec.BeginSigning()
		r.commit(prev, rec, false)
	}
	return nil
}

// Adapter returns the adapter bound to the given signer.
func (r *Registry) Adapter(fingerprint domain.Fingerprint) (ports.SignerAdapter, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	adapter, ok := r.adapters[fingerprint]
	return adapter, ok
}

// FingerprintOf returns the fingerprint of the signer bound to the adapter
// with the given id.
func (r *Registry) FingerprintOf(adapterID string) (domain.Fingerprint, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	fp, ok := r.adapterIDs[adapterID]
	return fp, ok
}

// ConfiguredAdapters returns the adapters of hot and provider signers.
func (r *Registry) ConfiguredAdapters() []ports.SignerAdapter {
	r.lock.RLock()
	defer r.lock.RUnlock()

	adapters := make([]ports.SignerAdapter, 0)
	for _, fp := range r.order {
		if r.records[fp].Kind.IsHardware() {
			continue
		}
		if adapter, ok := r.adapters[fp]; ok {
			adapters = append(adapters, adapter)
		}
	}
	return adapters
}

// Selected returns the fingerprints of the signers selected by the user, in
// insertion order.
func (r *Registry) Selected() []domain.Fingerprint {
	r.lock.RLock()
	defer r.lock.RUnlock()

	fps := make([]domain.Fingerprint, 0)
	for _, fp := range r.order {
		if r.records[fp].State == domain.StateSelected {
			fps = append(fps, fp)
		}
	}
	return fps
}

// PresentHardware returns the fingerprints of the connected hardware signers.
func (r *Registry) PresentHardware() []domain.Fingerprint {
	r.lock.RLock()
	defer r.lock.RUnlock()

	fps := make([]domain.Fingerprint, 0)
	for _, fp := range r.order {
		rec := r.records[fp]
		if rec.Kind.IsHardware() && rec.Present {
			fps = append(fps, fp)
		}
	}
	return fps
}

// UpsertLocked tracks a locked device that didn't report its fingerprint.
func (r *Registry) UpsertLocked(
	adapter ports.SignerAdapter, pairingCode string,
) domain.LockedDevice {
	r.lock.Lock()
	defer r.lock.Unlock()

	id := adapter.ID()
	device, ok := r.locked[id]
	if !ok {
		device = &domain.LockedDevice{ID: id, Kind: adapter.Kind()}
		r.locked[id] = device
		r.lockedOrder = append(r.lockedOrder, id)
	}
	r.lockedAdapters[id] = adapter

	changed := !ok || device.PairingCode != pairingCode
	device.PairingCode = pairingCode
	device.LastSeen = r.now()

	if changed {
		cp := *device
		r.updates.publish(SignerUpdate{Locked: &cp})
	}
	return *device
}

// RemoveLocked stops tracking the locked device with the given id.
func (r *Registry) RemoveLocked(id string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	device, ok := r.locked[id]
	if !ok {
		return false
	}
	delete(r.locked, id)
	delete(r.lockedAdapters, id)
	for i, lockedID := range r.lockedOrder {
		if lockedID == id {
			r.lockedOrder = append(r.lockedOrder[:i], r.lockedOrder[i+1:]...)
			break
		}
	}

	cp := *device
	r.updates.publish(SignerUpdate{Locked: &cp, Removed: true})
	return true
}

func (r *Registry) LockedDevices() []domain.LockedDevice {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]domain.LockedDevice, 0, len(r.lockedOrder))
	for _, id := range r.lockedOrder {
		list = append(list, *r.locked[id])
	}
	return list
}

func (r *Registry) LockedAdapter(id string) (ports.SignerAdapter, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	adapter, ok := r.lockedAdapters[id]
	return adapter, ok
}

// Subscribe returns the feed of registry deltas, along with the function to
// stop receiving them.
func (r *Registry) Subscribe() (<-chan SignerUpdate, func()) {
	return r.updates.subscribe()
}

func (r *Registry) Close() {
	r.updates.close()
}

func (r *Registry) getOrCreate(
	fingerprint domain.Fingerprint, kind domain.SignerKind,
) (*domain.SignerRecord, bool) {
	if rec, ok := r.records[fingerprint]; ok {
		return rec, false
	}
	rec := domain.NewSignerRecord(fingerprint, kind)
	r.records[fingerprint] = rec
	r.order = append(r.order, fingerprint)
	return rec, true
}

func (r *Registry) toggle(
	fingerprint domain.Fingerprint, fn func(*domain.SignerRecord) error,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	rec, ok := r.records[fingerprint]
	if !ok {
		return domain.ErrSignerNotFound
	}
	prev := *rec
	if err := fn(rec); err != nil {
		return err
	}
	r.commit(prev, rec, false)
	return nil
}

// commit must be called with the lock held.
func (r *Registry) commit(
	prev domain.SignerRecord, rec *domain.SignerRecord, created bool,
) domain.StateChange {
	change := domain.StateChange{
		Fingerprint: rec.Fingerprint,
		From:        prev.State,
		To:          rec.State,
		Created:     created,
		Record:      *rec,
	}
	if change.Changed() {
		signerTransitions.WithLabelValues(rec.State.String()).Inc()
	}

	// last seen alone doesn't make a delta.
	prev.LastSeen = rec.LastSeen
	if created || prev != *rec {
		cp := *rec
		r.updates.publish(SignerUpdate{Record: &cp})
	}
	return change
}
