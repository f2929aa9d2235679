package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDiscoveryInterval = 2 * time.Second
	maxConcurrentProbes      = 8
)

// DiscoveryService periodically enumerates the connected hardware signers
// and probes them together with the configured hot and provider-key signers.
// Hardware signers that are no longer enumerated are marked as disconnected.
type DiscoveryService struct {
	registry   *Registry
	pairing    *PairingService
	enumerator ports.DeviceEnumerator
	interval   time.Duration

	lock        *sync.Mutex
	refreshLock *sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

func NewDiscoveryService(
	registry *Registry, pairing *PairingService,
	enumerator ports.DeviceEnumerator, interval time.Duration,
) *DiscoveryService {
	if interval <= 0 {
		interval = defaultDiscoveryInterval
	}

	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("discovery service: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("discovery service: %s", format)
		log.WithError(err).Warnf(format, a...)
	}

	return &DiscoveryService{
		registry:    registry,
		pairing:     pairing,
		enumerator:  enumerator,
		interval:    interval,
		lock:        &sync.Mutex{},
		refreshLock: &sync.Mutex{},
		log:         logFn,
		warn:        warnFn,
	}
}

// Start runs a discovery round at every interval, until Stop is called.
func (s *DiscoveryService) Start() {
	s.lock.Lock()
	if s.cancel != nil {
		s.lock.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.lock.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			if err := s.Refresh(ctx); err != nil {
				s.warn(err, "discovery round failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	s.log("started with interval %s", s.interval)
}

func (s *DiscoveryService) Stop() {
	s.lock.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lock.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log("stopped")
}

// Refresh runs a single discovery round. Absent hardware signers are marked
// as disconnected only if the enumeration succeeded.
func (s *DiscoveryService) Refresh(ctx context.Context) error {
	s.refreshLock.Lock()
	defer s.refreshLock.Unlock()

	var devices []ports.SignerAdapter
	var enumErr error
	if s.enumerator != nil {
		devices, enumErr = s.enumerator.Enumerate(ctx)
	}

	adapters := append(devices, s.registry.ConfiguredAdapters()...)
	presences := make([]domain.Presence, len(adapters))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentProbes)
	for i, adapter := range adapters {
		i, adapter := i, adapter
		eg.Go(func() error {
			presences[i] = s.pairing.Probe(egCtx, adapter)
			return nil
		})
	}
	_ = eg.Wait()

	seen := make(map[domain.Fingerprint]struct{})
	seenLocked := make(map[string]struct{})
	for i, adapter := range adapters {
		p := presences[i]
		if fp, ok := s.pairing.resolve(adapter, p); ok {
			if p.Status != domain.PresenceAbsent {
				seen[fp] = struct{}{}
			}
		} else if p.Status == domain.PresenceLocked {
			seenLocked[adapter.ID()] = struct{}{}
		}

		if _, err := s.pairing.HandlePresence(ctx, adapter, p); err != nil {
			s.warn(err, "failed to handle presence of %s", adapter.ID())
		}
	}

	if enumErr != nil {
		return fmt.Errorf("failed to enumerate devices: %w", enumErr)
	}

	for _, fp := range s.registry.PresentHardware() {
		if _, ok := seen[fp]; ok {
			continue
		}
		// devices waiting for the user to confirm a signature may not be
		// enumerated.
		if rec, err := s.registry.Get(fp); err == nil &&
			rec.State == domain.StateSigning {
			continue
		}
		if _, err := s.pairing.HandleAbsent(fp); err != nil {
			s.warn(err, "failed to mark signer %s as disconnected", fp)
		}
	}
	for _, device := range s.registry.LockedDevices() {
		if _, ok := seenLocked[device.ID]; !ok {
			s.registry.RemoveLocked(device.ID)
		}
	}
	return nil
}
