package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
	"github.com/vulpemventures/quorum/pkg/descriptor"
)

const (
	defaultProbeTimeout    = 2 * time.Second
	defaultRegisterTimeout = 5 * time.Minute
)

// ProviderAdapterFactory returns the adapter for the given provider key.
type ProviderAdapterFactory func(kind domain.SignerKind) (ports.SignerAdapter, error)

// PairingService drives the signers through pairing and registration:
//   - probe results are turned into registry updates, with locked devices
//     that don't report their fingerprint tracked separately.
//   - whenever a record enters StateReady it's gated against the wallet
//     descriptor, network and minimum firmware version.
//   - signers that passed the gates register the wallet descriptor, at most
//     once per transition into StateReady.
//
// Registrations and aliases are persisted, so that a known signer goes
// straight to StateRegistered when connected again.
type PairingService struct {
	registry        *Registry
	repoManager     ports.RepoManager
	descriptor      *descriptor.Descriptor
	network         string
	minVersions     map[string]string
	probeTimeout    time.Duration
	registerTimeout time.Duration
	providerFactory ProviderAdapterFactory

	wg *sync.WaitGroup

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

func NewPairingService(
	registry *Registry, repoManager ports.RepoManager,
	desc *descriptor.Descriptor, network string,
	minVersions map[string]string, probeTimeout time.Duration,
	providerFactory ProviderAdapterFactory,
) *PairingService {
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	versions := make(map[string]string, len(minVersions))
	for k, v := range minVersions {
		versions[strings.ToLower(k)] = v
	}

	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("pairing service: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("pairing service: %s", format)
		log.WithError(err).Warnf(format, a...)
	}

	svc := &PairingService{
		registry:        registry,
		repoManager:     repoManager,
		descriptor:      desc,
		network:         domain.NormalizeNetwork(network),
		minVersions:     versions,
		probeTimeout:    probeTimeout,
		registerTimeout: defaultRegisterTimeout,
		providerFactory: providerFactory,
		wg:              &sync.WaitGroup{},
		log:             logFn,
		warn:            warnFn,
	}
	svc.registerHandlerForSignerEvents()
	return svc
}

func (s *PairingService) registerHandlerForSignerEvents() {
	s.repoManager.RegisterHandlerForSignerEvent(
		domain.SignerDescriptorRegistered, func(event domain.SignerEvent) {
			s.log("registration of signer %s persisted", event.Fingerprint)
		},
	)
	s.repoManager.RegisterHandlerForSignerEvent(
		domain.SignerAliasUpdated, func(event domain.SignerEvent) {
			s.log("alias of signer %s set to %q", event.Fingerprint, event.Alias)
		},
	)
}

// HandlePresence applies the result of probing the given adapter.
func (s *PairingService) HandlePresence(
	ctx context.Context, adapter ports.SignerAdapter, p domain.Presence,
) (domain.StateChange, error) {
	fingerprint, ok := s.resolve(adapter, p)
	if !ok {
		switch p.Status {
		case domain.PresenceLocked:
			device := s.registry.UpsertLocked(adapter, p.PairingCode)
			s.log("device %s is locked (pairing code %q)", device.ID, device.PairingCode)
		case domain.PresenceError:
			s.warn(p.Err, "failed to probe device %s", adapter.ID())
		default:
			s.registry.RemoveLocked(adapter.ID())
		}
		return domain.StateChange{}, nil
	}

	s.registry.RemoveLocked(adapter.ID())
	return s.upsert(ctx, fingerprint, adapter, p, false)
}

// HandleAbsent marks the given hardware signer as disconnected.
func (s *PairingService) HandleAbsent(
	fingerprint domain.Fingerprint,
) (domain.StateChange, error) {
	rec, err := s.registry.Get(fingerprint)
	if err != nil {
		return domain.StateChange{}, err
	}
	change, err := s.registry.Upsert(fingerprint, rec.Kind, domain.Absent())
	if err != nil {
		return domain.StateChange{}, err
	}
	if change.Changed() {
		s.log("signer %s disconnected", rec.DisplayName())
	}
	return change, nil
}

// Acknowledge re-probes the locked device with the given id, or the signer
// with the given fingerprint. A signer in a terminal state is probed fresh,
// as it was connected for the first time.
func (s *PairingService) Acknowledge(
	ctx context.Context, id string,
) (domain.StateChange, error) {
	if adapter, ok := s.registry.LockedAdapter(id); ok {
		return s.HandlePresence(ctx, adapter, s.Probe(ctx, adapter))
	}

	fingerprint, err := domain.ParseFingerprint(id)
	if err != nil {
		return domain.StateChange{}, domain.ErrLockedDeviceNotFound
	}
	rec, err := s.registry.Get(fingerprint)
	if err != nil {
		return domain.StateChange{}, err
	}
	adapter, ok := s.registry.Adapter(fingerprint)
	if !ok {
		return domain.StateChange{}, domain.ErrSignerNotFound
	}

	p := s.Probe(ctx, adapter)
	if p.Status == domain.PresenceError {
		return s.upsert(ctx, fingerprint, adapter, p, false)
	}
	if p.Status == domain.PresenceReady && p.Fingerprint != fingerprint {
		return domain.StateChange{}, fmt.Errorf(
			"device now reports fingerprint %s instead of %s", p.Fingerprint, fingerprint,
		)
	}
	fresh := rec.State.IsTerminal() && p.Status != domain.PresenceAbsent
	return s.upsert(ctx, fingerprint, adapter, p, fresh)
}

// Probe probes the given adapter, never blocking past the probe timeout.
func (s *PairingService) Probe(
	ctx context.Context, adapter ports.SignerAdapter,
) domain.Presence {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	chPresence := make(chan domain.Presence, 1)
	go func() {
		chPresence <- adapter.Probe(ctx)
	}()

	select {
	case p := <-chPresence:
		return p
	case <-ctx.Done():
		return domain.Failed(domain.NewAdapterError(
			domain.AdapterTimeout,
			fmt.Sprintf("no answer within %s", s.probeTimeout),
			ctx.Err(),
		))
	}
}

// AddSigner probes the given hot or provider-key adapter and adds it to the
// registry. The fingerprint, if given, is the one the signer is expected to
// report. The signer is persisted if save is set.
func (s *PairingService) AddSigner(
	ctx context.Context, adapter ports.SignerAdapter,
	fingerprint domain.Fingerprint, alias string, save bool,
) (domain.StateChange, error) {
	kind := adapter.Kind()
	if kind.IsHardware() {
		return domain.StateChange{}, fmt.Errorf(
			"hardware signers are added by discovery",
		)
	}

	p := s.Probe(ctx, adapter)
	switch p.Status {
	case domain.PresenceReady:
		if !fingerprint.IsZero() && p.Fingerprint != fingerprint {
			p = domain.Failed(domain.NewAdapterError(
				domain.AdapterProtocolError,
				fmt.Sprintf("signer reports fingerprint %s instead of %s", p.Fingerprint, fingerprint),
				nil,
			))
			break
		}
		fingerprint = p.Fingerprint
	case domain.PresenceLocked:
		if fingerprint.IsZero() {
			fingerprint = p.Fingerprint
		}
	}
	if fingerprint.IsZero() {
		return domain.StateChange{}, fmt.Errorf(
			"signer %s did not report its fingerprint: %s", adapter.ID(), p,
		)
	}

	if alias == "" {
		if signer, err := s.repoManager.SignerRepository().GetSigner(
			ctx, fingerprint,
		); err == nil {
			alias = signer.Alias
		}
	}

	change, err := s.upsert(ctx, fingerprint, adapter, p, false)
	if err != nil {
		return domain.StateChange{}, err
	}
	if alias != "" {
		if err := s.registry.SetAlias(fingerprint, alias); err != nil {
			return domain.StateChange{}, err
		}
		change.Record.Alias = alias
	}

	if save {
		if err := s.SaveSigner(ctx, fingerprint); err != nil {
			return domain.StateChange{}, err
		}
		if alias != "" {
			if err := s.repoManager.SignerRepository().SetAlias(
				ctx, fingerprint, alias,
			); err != nil {
				return domain.StateChange{}, err
			}
		}
	}
	return change, nil
}

// AddProviderKey adds the key of the given remote signing service.
// Unsaved keys are forgotten at restart.
func (s *PairingService) AddProviderKey(
	ctx context.Context, service, token, alias string, save bool,
) (domain.StateChange, error) {
	if s.providerFactory == nil {
		return domain.StateChange{}, fmt.Errorf("provider keys are not supported")
	}
	adapter, err := s.providerFactory(domain.ProviderKeyKind(service, token))
	if err != nil {
		return domain.StateChange{}, err
	}
	return s.AddSigner(ctx, adapter, domain.Fingerprint{}, alias, save)
}

// SaveSigner persists the signer with the given fingerprint, along with the
// registration of the wallet descriptor if already done.
func (s *PairingService) SaveSigner(
	ctx context.Context, fingerprint domain.Fingerprint,
) error {
	rec, err := s.registry.Get(fingerprint)
	if err != nil {
		return err
	}
	if err := s.persist(ctx, fingerprint); err != nil {
		return err
	}
	if s.descriptor == nil || !rec.CanSign() {
		return nil
	}
	return s.repoManager.SignerRepository().MarkRegistered(
		ctx, fingerprint, s.descriptor.String(),
	)
}

// SetAlias updates the alias of the given signer, persisting it.
func (s *PairingService) SetAlias(
	ctx context.Context, fingerprint domain.Fingerprint, alias string,
) error {
	if err := s.registry.SetAlias(fingerprint, alias); err != nil {
		return err
	}
	if err := s.persist(ctx, fingerprint); err != nil {
		return err
	}
	return s.repoManager.SignerRepository().SetAlias(ctx, fingerprint, alias)
}

// LoadSigners restores the persisted signers. Hardware signers are restored
// as disconnected, provider keys are probed again. Hot signers are expected to
// be added from configuration.
func (s *PairingService) LoadSigners(ctx context.Context) error {
	signers, err := s.repoManager.SignerRepository().ListSigners(ctx)
	if err != nil {
		return err
	}

	for _, signer := range signers {
		switch signer.Kind.Type {
		case domain.KindHardware:
			s.registry.Restore(signer.Fingerprint, signer.Kind, signer.Alias)
		case domain.KindProviderKey:
			if s.providerFactory == nil {
				s.log("skipping provider key %s, provider keys are not supported", signer.Fingerprint)
				continue
			}
			adapter, err := s.providerFactory(signer.Kind)
			if err != nil {
				s.warn(err, "failed to restore provider key %s", signer.Fingerprint)
				continue
			}
			if _, err := s.AddSigner(
				ctx, adapter, signer.Fingerprint, signer.Alias, false,
			); err != nil {
				s.warn(err, "failed to restore provider key %s", signer.Fingerprint)
			}
		}
	}
	s.log("restored %d signers", len(signers))
	return nil
}

// Close waits for any pending registration to complete.
func (s *PairingService) Close() {
	s.wg.Wait()
}

func (s *PairingService) resolve(
	adapter ports.SignerAdapter, p domain.Presence,
) (domain.Fingerprint, bool) {
	if p.Status == domain.PresenceReady || p.Status == domain.PresenceLocked {
		if !p.Fingerprint.IsZero() {
			return p.Fingerprint, true
		}
	}
	return s.registry.FingerprintOf(adapter.ID())
}

func (s *PairingService) upsert(
	ctx context.Context, fingerprint domain.Fingerprint,
	adapter ports.SignerAdapter, p domain.Presence, fresh bool,
) (domain.StateChange, error) {
	registered := false
	if p.Status == domain.PresenceReady {
		registered = s.isRegistered(ctx, fingerprint)
	}

	opts := []UpsertOption{
		WithAdapter(adapter), WithGate(s.gate(registered)),
	}
	if fresh {
		opts = append(opts, Fresh())
	}

	change, err := s.registry.Upsert(fingerprint, adapter.Kind(), p, opts...)
	if err != nil {
		return domain.StateChange{}, err
	}
	if change.Changed() {
		s.log(
			"signer %s: %s -> %s", change.Record.DisplayName(), change.From, change.To,
		)
	}

	if change.To == domain.StateReady && !change.Record.RegistrationAttempted {
		s.autoRegister(fingerprint, adapter)
	}
	return change, nil
}

// gate checks, in order, that the signer belongs to the wallet, that it's
// configured for the wallet network and that its firmware is recent enough.
func (s *PairingService) gate(registered bool) func(*domain.SignerRecord) {
	return func(rec *domain.SignerRecord) {
		if s.descriptor != nil && !s.descriptor.HasFingerprint(rec.Fingerprint.String()) {
			rec.MarkUnrelated(unrelatedReason(rec.Kind))
			return
		}
		if rec.Network != "" && s.network != "" &&
			!domain.SameNetwork(rec.Network, s.network) {
			rec.Fail(domain.ErrorWrongNetwork, fmt.Sprintf(
				"signer is configured for %s, wallet network is %s",
				rec.Network, s.network,
			))
			return
		}
		if min := s.minVersion(rec.Kind); domain.VersionBelow(rec.FirmwareVersion, min) {
			rec.RequiredVersion = min
			rec.Fail(
				domain.ErrorUnsupportedVersion,
				fmt.Sprintf("Install version %s or later", min),
			)
			return
		}
		if registered {
			rec.MarkRegistered()
		}
	}
}

func (s *PairingService) minVersion(kind domain.SignerKind) string {
	if !kind.IsHardware() {
		return ""
	}
	vendor := strings.ToLower(kind.Vendor)
	if kind.Model != "" {
		key := fmt.Sprintf("%s/%s", vendor, strings.ToLower(kind.Model))
		if v, ok := s.minVersions[key]; ok {
			return v
		}
	}
	return s.minVersions[vendor]
}

func (s *PairingService) isRegistered(
	ctx context.Context, fingerprint domain.Fingerprint,
) bool {
	if s.descriptor == nil {
		return false
	}
	signer, err := s.repoManager.SignerRepository().GetSigner(ctx, fingerprint)
	if err != nil {
		return false
	}
	return signer.IsRegistered(s.descriptor.String())
}

// autoRegister starts the registration of the descriptor on the given signer,
// unless already attempted since the record entered StateReady.
func (s *PairingService) autoRegister(
	fingerprint domain.Fingerprint, adapter ports.SignerAdapter,
) {
	attempt := false
	if _, err := s.registry.Update(fingerprint, func(rec *domain.SignerRecord) {
		if rec.State == domain.StateReady && !rec.RegistrationAttempted {
			rec.RegistrationAttempted = true
			attempt = true
		}
	}); err != nil || !attempt {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.register(fingerprint, adapter)
	}()
}

func (s *PairingService) register(
	fingerprint domain.Fingerprint, adapter ports.SignerAdapter,
) {
	ctx, cancel := context.WithTimeout(context.Background(), s.registerTimeout)
	defer cancel()

	desc := ""
	if s.descriptor != nil {
		desc = s.descriptor.String()
	}

	if err := adapter.Register(ctx, desc); err != nil {
		kind, reason := registrationFailure(err)
		s.registry.Update(fingerprint, func(rec *domain.SignerRecord) {
			if rec.State == domain.StateReady {
				rec.Fail(kind, reason)
			}
		})
		s.warn(err, "failed to register descriptor on signer %s", fingerprint)
		return
	}

	change, err := s.registry.Update(fingerprint, func(rec *domain.SignerRecord) {
		rec.MarkRegistered()
	})
	if err != nil {
		return
	}
	if change.To != domain.StateRegistered {
		s.log("signer %s left ready state while registering", fingerprint)
		return
	}
	s.log("signer %s registered the wallet descriptor", change.Record.DisplayName())

	if desc == "" {
		return
	}
	// hot and provider-key signers are persisted only if saved by the user.
	if change.Record.Kind.IsHardware() {
		if err := s.persist(ctx, fingerprint); err != nil {
			s.warn(err, "failed to persist signer %s", fingerprint)
			return
		}
	}
	if err := s.repoManager.SignerRepository().MarkRegistered(
		ctx, fingerprint, desc,
	); err != nil && !errors.Is(err, domain.ErrSignerNotFound) {
		s.warn(err, "failed to persist registration of signer %s", fingerprint)
	}
}

// persist stores the given registry record if not already existing.
func (s *PairingService) persist(
	ctx context.Context, fingerprint domain.Fingerprint,
) error {
	repo := s.repoManager.SignerRepository()
	if _, err := repo.GetSigner(ctx, fingerprint); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrSignerNotFound) {
		return err
	}

	rec, err := s.registry.Get(fingerprint)
	if err != nil {
		return err
	}
	err = repo.AddSigner(ctx, &domain.Signer{
		Fingerprint: rec.Fingerprint,
		Alias:       rec.Alias,
		Kind:        rec.Kind,
		CreatedAt:   time.Now().Unix(),
	})
	if errors.Is(err, domain.ErrSignerAlreadyExisting) {
		return nil
	}
	return err
}

func registrationFailure(err error) (domain.ErrorKind, string) {
	var regErr *domain.RegistrationError
	if errors.As(err, &regErr) {
		reason := regErr.Reason
		if reason == "" {
			reason = regErr.Error()
		}
		if regErr.Kind == domain.RegistrationUnsupported {
			return domain.ErrorUnsupported, reason
		}
		return domain.ErrorRegistrationFailed, reason
	}
	return domain.ErrorRegistrationFailed, err.Error()
}

func unrelatedReason(kind domain.SignerKind) string {
	switch kind.Type {
	case domain.KindHot:
		return "This computer is not part of this wallet"
	case domain.KindProviderKey:
		return fmt.Sprintf("Key from %s is not part of this wallet", kind.Service)
	}
	return "Signer is not part of this wallet"
}
