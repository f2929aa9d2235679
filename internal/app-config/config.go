package appconfig

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/quorum/internal/config"
	"github.com/vulpemventures/quorum/internal/core/application"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
	cypher "github.com/vulpemventures/quorum/internal/infrastructure/mnemonic-cypher/aes128"
	mnemonic_filestore "github.com/vulpemventures/quorum/internal/infrastructure/mnemonic-store/file"
	mnemonic_store "github.com/vulpemventures/quorum/internal/infrastructure/mnemonic-store/in-memory"
	hot_signer "github.com/vulpemventures/quorum/internal/infrastructure/signer/hot"
	hwi_signer "github.com/vulpemventures/quorum/internal/infrastructure/signer/hwi"
	provider_signer "github.com/vulpemventures/quorum/internal/infrastructure/signer/provider"
	dbbadger "github.com/vulpemventures/quorum/internal/infrastructure/storage/db/badger"
	"github.com/vulpemventures/quorum/internal/infrastructure/storage/db/inmemory"
	postgresdb "github.com/vulpemventures/quorum/internal/infrastructure/storage/db/postgres"
	"github.com/vulpemventures/quorum/pkg/descriptor"
)

// AppConfig is the struct holding all configuration options for every
// application service (registry, pairing, discovery, signing coordinator and
// notification). This data structure acts also as a factory of the mentioned
// application services and the portable services used by them.
// Public config args:
//   - Network - (required) The Bitcoin network (bitcoin, testnet, signet, regtest).
//   - WalletDescriptor - (required) The output descriptor of the multisig wallet.
//   - RepoManagerType - (required) One of the supported repository manager types.
//   - RepoManagerConfig - (optional) Custom config args for the repository manager based on its type.
//   - MnemonicsDir - (optional) The folder of the encrypted mnemonics of hot signers. Mnemonics are kept in memory if not defined.
//   - HotSigners - (optional) The references of the stored mnemonics to load as hot signers.
//   - HotSignerPassword - (optional) The password to decrypt the mnemonics of the hot signers.
//   - ProviderServices - (optional) The address of the remote signing services by name.
//   - NoHwi - (optional) Whether to disable the discovery of hardware signers.
//   - MinFirmwareVersions - (optional) The min firmware version by vendor or vendor/model.
//   - ProbeTimeout, DiscoveryInterval, SigningTimeout - (optional) Timings, defaulted by the services if not defined.
type AppConfig struct {
	Version string
	Commit  string
	Date    string

	Network          string
	WalletDescriptor string

	RepoManagerType   string
	RepoManagerConfig interface{}

	MnemonicsDir      string
	HotSigners        []string
	HotSignerPassword string

	ProviderServices map[string]string
	ProviderInsecure bool

	NoHwi         bool
	HwiPath       string
	HwiWalletName string

	MinFirmwareVersions map[string]string
	ProbeTimeout        time.Duration
	DiscoveryInterval   time.Duration
	SigningTimeout      time.Duration

	desc           *descriptor.Descriptor
	rm             ports.RepoManager
	ms             ports.MnemonicStore
	registry       *application.Registry
	pairingSvc     *application.PairingService
	discoverySvc   *application.DiscoveryService
	coordinator    *application.SigningCoordinator
	notifySvc      *application.NotificationService
	providerLock   sync.Mutex
	providerConns  []io.Closer
	enumerator     ports.DeviceEnumerator
	enumeratorInit bool
}

func (c *AppConfig) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("missing network")
	}
	if _, err := domain.NetworkParams(c.Network); err != nil {
		return err
	}
	if _, err := c.descriptor(); err != nil {
		return err
	}
	if len(c.RepoManagerType) == 0 {
		return fmt.Errorf("missing repo manager type")
	}
	if _, ok := config.SupportedDbs[c.RepoManagerType]; !ok {
		return fmt.Errorf(
			"repo manager type not supported, must be one of: %s",
			config.SupportedDbs,
		)
	}
	if len(c.HotSigners) > 0 && c.HotSignerPassword == "" {
		return fmt.Errorf("missing hot signer password")
	}
	for _, ref := range c.HotSigners {
		if err := domain.ValidateMnemonicRef(ref); err != nil {
			return fmt.Errorf("invalid hot signer %q: %w", ref, err)
		}
	}
	if _, err := c.repoManager(); err != nil {
		return err
	}
	if _, err := c.mnemonicStore(); err != nil {
		return err
	}
	if _, err := c.deviceEnumerator(); err != nil {
		return err
	}

	return nil
}

func (c *AppConfig) RepoManager() ports.RepoManager {
	return c.rm
}

func (c *AppConfig) MnemonicStore() ports.MnemonicStore {
	return c.ms
}

func (c *AppConfig) Registry() *application.Registry {
	return c.signerRegistry()
}

func (c *AppConfig) PairingService() *application.PairingService {
	return c.pairingService()
}

func (c *AppConfig) DiscoveryService() *application.DiscoveryService {
	return c.discoveryService()
}

func (c *AppConfig) SigningCoordinator() *application.SigningCoordinator {
	return c.signingCoordinator()
}

func (c *AppConfig) NotificationService() *application.NotificationService {
	return c.notificationService()
}

func (c *AppConfig) WalletInfo() application.WalletInfo {
	desc, _ := c.descriptor()
	return application.WalletInfo{
		Network:      domain.NormalizeNetwork(c.Network),
		Descriptor:   desc.String(),
		Threshold:    desc.Threshold(),
		Fingerprints: desc.Fingerprints(),
		BuildInfo:    c.buildInfo(),
	}
}

// Stats returns the number of signers by state and of the sessions by
// status.
func (c *AppConfig) Stats() map[string]interface{} {
	stats := map[string]interface{}{}
	registry := c.Registry()
	for _, rec := range registry.List() {
		key := fmt.Sprintf("signers_%s", strings.ToLower(rec.State.String()))
		n, _ := stats[key].(int)
		stats[key] = n + 1
	}
	stats["locked_devices"] = len(registry.LockedDevices())

	var active int
	sessions := c.SigningCoordinator().ListSessions()
	for _, s := range sessions {
		if !s.Status.IsTerminal() {
			active++
		}
	}
	stats["sessions_active"] = active
	stats["sessions_in_memory"] = len(sessions)
	return stats
}

// LoadSigners restores the persisted signers and adds the configured hot
// ones to the registry. A hot signer that can't be loaded is skipped.
func (c *AppConfig) LoadSigners(ctx context.Context) error {
	pairing := c.pairingService()
	if err := pairing.LoadSigners(ctx); err != nil {
		return err
	}

	store, _ := c.mnemonicStore()
	for _, ref := range c.HotSigners {
		signer, err := hot_signer.LoadSigner(
			store, ref, c.HotSignerPassword, c.Network,
		)
		if err != nil {
			log.WithError(err).Warnf("app config: skipping hot signer %s", ref)
			continue
		}
		change, err := pairing.AddSigner(
			ctx, signer, domain.Fingerprint{}, "", true,
		)
		if err != nil {
			log.WithError(err).Warnf("app config: skipping hot signer %s", ref)
			continue
		}
		log.Debugf(
			"app config: loaded hot signer %s (%s)",
			ref, change.Record.Fingerprint,
		)
	}
	return nil
}

// Close stops every application service and releases the resources held by
// the portable ones.
func (c *AppConfig) Close() {
	if c.discoverySvc != nil {
		c.discoverySvc.Stop()
	}
	if c.coordinator != nil {
		c.coordinator.Close()
	}
	if c.pairingSvc != nil {
		c.pairingSvc.Close()
	}
	if c.registry != nil {
		c.registry.Close()
	}

	c.providerLock.Lock()
	for _, conn := range c.providerConns {
		conn.Close()
	}
	c.providerConns = nil
	c.providerLock.Unlock()

	if c.rm != nil {
		c.rm.Close()
	}
}

func (c *AppConfig) descriptor() (*descriptor.Descriptor, error) {
	if c.desc != nil {
		return c.desc, nil
	}
	if c.WalletDescriptor == "" {
		return nil, fmt.Errorf("missing wallet descriptor")
	}

	desc, err := descriptor.Parse(c.WalletDescriptor)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet descriptor: %w", err)
	}
	net, err := desc.Network()
	if err != nil {
		return nil, fmt.Errorf("invalid wallet descriptor: %w", err)
	}
	if !domain.SameNetwork(net, c.Network) {
		return nil, fmt.Errorf(
			"wallet descriptor is for %s, expected %s", net, c.Network,
		)
	}
	c.desc = desc
	return c.desc, nil
}

func (c *AppConfig) repoManager() (ports.RepoManager, error) {
	if c.rm != nil {
		return c.rm, nil
	}

	switch c.RepoManagerType {
	case "inmemory":
		c.rm = inmemory.NewRepoManager()
		return c.rm, nil
	case "badger":
		if c.RepoManagerConfig == nil {
			return nil, fmt.Errorf("missing repo manager config args")
		}
		datadir, ok := c.RepoManagerConfig.(string)
		if !ok {
			return nil, fmt.Errorf("invalid repo manager config type, must be string")
		}
		rm, err := dbbadger.NewRepoManager(datadir, log.New())
		if err != nil {
			return nil, err
		}
		c.rm = rm
		return c.rm, nil
	case "postgres":
		dbConfig, ok := c.RepoManagerConfig.(postgresdb.DbConfig)
		if !ok {
			return nil, fmt.Errorf("invalid repo manager config type, must be postgresdb.DbConfig")
		}

		rm, err := postgresdb.NewRepoManager(dbConfig)
		if err != nil {
			return nil, err
		}

		c.rm = rm
		return c.rm, nil
	default:
		return nil, fmt.Errorf("unknown repo manager type")
	}
}

func (c *AppConfig) mnemonicStore() (ports.MnemonicStore, error) {
	if c.ms != nil {
		return c.ms, nil
	}

	if c.MnemonicsDir == "" {
		c.ms = mnemonic_store.NewInMemoryMnemonicStore(cypher.NewAES128Cypher())
		return c.ms, nil
	}

	ms, err := mnemonic_filestore.NewFileMnemonicStore(
		c.MnemonicsDir, cypher.NewAES128Cypher(),
	)
	if err != nil {
		return nil, err
	}
	c.ms = ms
	return c.ms, nil
}

func (c *AppConfig) deviceEnumerator() (ports.DeviceEnumerator, error) {
	if c.enumeratorInit {
		return c.enumerator, nil
	}
	if c.NoHwi {
		c.enumeratorInit = true
		return nil, nil
	}

	driver, err := hwi_signer.NewDriver(c.HwiPath, c.Network, c.HwiWalletName)
	if err != nil {
		return nil, err
	}
	c.enumerator = driver
	c.enumeratorInit = true
	return c.enumerator, nil
}

// providerAdapter returns the adapter of the given provider key, dialing the
// address configured for its service.
func (c *AppConfig) providerAdapter(kind domain.SignerKind) (ports.SignerAdapter, error) {
	addr, ok := c.ProviderServices[kind.Service]
	if !ok {
		return nil, fmt.Errorf("unknown provider service %s", kind.Service)
	}

	adapter, err := provider_signer.NewSigner(provider_signer.Config{
		Service:  kind.Service,
		Addr:     addr,
		Token:    kind.Token,
		Insecure: c.ProviderInsecure,
	})
	if err != nil {
		return nil, err
	}
	if closer, ok := adapter.(io.Closer); ok {
		c.providerLock.Lock()
		c.providerConns = append(c.providerConns, closer)
		c.providerLock.Unlock()
	}
	return adapter, nil
}

func (c *AppConfig) signerRegistry() *application.Registry {
	if c.registry != nil {
		return c.registry
	}

	c.registry = application.NewRegistry()
	return c.registry
}

func (c *AppConfig) pairingService() *application.PairingService {
	if c.pairingSvc != nil {
		return c.pairingSvc
	}

	rm, _ := c.repoManager()
	desc, _ := c.descriptor()
	var factory application.ProviderAdapterFactory
	if len(c.ProviderServices) > 0 {
		factory = c.providerAdapter
	}
	c.pairingSvc = application.NewPairingService(
		c.signerRegistry(), rm, desc, c.Network, c.MinFirmwareVersions,
		c.ProbeTimeout, factory,
	)
	return c.pairingSvc
}

func (c *AppConfig) discoveryService() *application.DiscoveryService {
	if c.discoverySvc != nil {
		return c.discoverySvc
	}

	enumerator, _ := c.deviceEnumerator()
	c.discoverySvc = application.NewDiscoveryService(
		c.signerRegistry(), c.pairingService(), enumerator, c.DiscoveryInterval,
	)
	return c.discoverySvc
}

func (c *AppConfig) signingCoordinator() *application.SigningCoordinator {
	if c.coordinator != nil {
		return c.coordinator
	}

	rm, _ := c.repoManager()
	desc, _ := c.descriptor()
	c.coordinator = application.NewSigningCoordinator(
		c.signerRegistry(), rm,
		domain.NewThresholdPolicy(desc.Threshold(), desc.String()),
		c.SigningTimeout,
	)
	return c.coordinator
}

func (c *AppConfig) notificationService() *application.NotificationService {
	if c.notifySvc != nil {
		return c.notifySvc
	}

	rm, _ := c.repoManager()
	c.notifySvc = application.NewNotificationService(
		c.signerRegistry(), c.signingCoordinator(), rm,
	)
	return c.notifySvc
}

func (c *AppConfig) buildInfo() application.BuildInfo {
	version := "dev"
	if c.Version != "" {
		version = c.Version
	}
	commit := "none"
	if c.Commit != "" {
		commit = c.Commit
	}
	date := "unknown"
	if c.Date != "" {
		date = c.Date
	}
	return application.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}
}
