package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coreos/go-semver/semver"
	"github.com/spf13/viper"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/pkg/descriptor"
)

const (
	// DatadirKey is the key to customize the quorum datadir.
	DatadirKey = "DATADIR"
	// DatabaseTypeKey is the key to customize the type of database to use.
	DatabaseTypeKey = "DATABASE_TYPE"
	// PortKey is the key to customize the port where the daemon will be
	// listening to.
	PortKey = "PORT"
	// ProfilerPortKey is the key to customize the port where the profiler will
	// be listening to.
	ProfilerPortKey = "PROFILER_PORT"
	// NetworkKey is the key to customize the Bitcoin network.
	NetworkKey = "NETWORK"
	// LogLevelKey is the key to customize the log level to catch more specific
	// or more high level logs.
	LogLevelKey = "LOG_LEVEL"
	// TLSExtraIPKey is the key to bind one or more public IPs to the TLS key pair.
	// Should be used only when enabling TLS.
	TLSExtraIPKey = "TLS_EXTRA_IP"
	// TLSExtraDomainKey is the key to bind one or more public dns domains to the
	// TLS key pair. Should be used only when enabling TLS.
	TLSExtraDomainKey = "TLS_EXTRA_DOMAIN"
	// NoTLSKey is the key to disable TLS encryption.
	NoTLSKey = "NO_TLS"
	// NoProfilerKey is the key to disable Prometheus profiling.
	NoProfilerKey = "NO_PROFILER"
	// StatsIntervalKey is the key to customize the interval for the profiled to
	// gather profiling stats.
	StatsIntervalKey = "STATS_INTERVAL"
	// WalletDescriptorKey is the key to set the output descriptor of the
	// multisig wallet the signers are coordinated for.
	WalletDescriptorKey = "WALLET_DESCRIPTOR"
	// HotSignersKey is the key to set the list of references of the stored
	// mnemonics to load as hot signers at startup.
	HotSignersKey = "HOT_SIGNERS"
	// HotSignerPasswordKey is the key to set the password used to decrypt the
	// stored mnemonics of the hot signers.
	HotSignerPasswordKey = "HOT_SIGNER_PASSWORD"
	// ProviderServicesKey is the key to set the list of remote signing
	// services in the form <name>=<host:port>.
	ProviderServicesKey = "PROVIDER_SERVICES"
	// ProviderInsecureKey is the key to disable TLS when connecting to the
	// remote signing services. Should be used only for testing purposes.
	ProviderInsecureKey = "PROVIDER_INSECURE"
	// HwiPathKey is the key to customize the path of the hwi binary.
	HwiPathKey = "HWI_PATH"
	// HwiWalletNameKey is the key to customize the name the wallet descriptor
	// is registered with on hardware signers.
	HwiWalletNameKey = "HWI_WALLET_NAME"
	// NoHwiKey is the key to disable the discovery of hardware signers.
	NoHwiKey = "NO_HWI"
	// ProbeTimeoutKey is the key to customize the max time a signer has to
	// answer a probe.
	ProbeTimeoutKey = "PROBE_TIMEOUT_MS"
	// DiscoveryIntervalKey is the key to customize the interval between two
	// consecutive discovery rounds.
	DiscoveryIntervalKey = "DISCOVERY_INTERVAL_MS"
	// SigningTimeoutKey is the key to customize the default max duration of a
	// signing session.
	SigningTimeoutKey = "SIGNING_TIMEOUT_SECONDS"
	// MinFirmwareVersionsKey is the key to set the minimum firmware version
	// per vendor or vendor/model, in the form <vendor[/model]>=<version>.
	MinFirmwareVersionsKey = "MIN_FIRMWARE_VERSIONS"

	// DbLocation is the folder inside the datadir containing db files.
	DbLocation = "db"
	// TLSLocation is the folder inside the datadir containing TLS key and
	// certificate.
	TLSLocation = "tls"
	// ProfilerLocation is the folder inside the datadir containing profiler
	// stats files.
	ProfilerLocation = "stats"
	// MnemonicsLocation is the folder inside the datadir containing the
	// encrypted mnemonics of the hot signers.
	MnemonicsLocation = "mnemonics"
	// DbUserKey is user used to connect to db
	DbUserKey = "DB_USER"
	// DbPassKey is password used to connect to db
	DbPassKey = "DB_PASS"
	// DbHostKey is host where db is installed
	DbHostKey = "DB_HOST"
	// DbPortKey is port on which db is listening
	DbPortKey = "DB_PORT"
	// DbNameKey is name of database
	DbNameKey = "DB_NAME"
	// DbMigrationPath is the path to migration files
	DbMigrationPath = "DB_MIGRATION_PATH"
)

var (
	vip *viper.Viper

	defaultDatadir           = btcutil.AppDataDir("quorumd", false)
	defaultDbType            = "badger"
	defaultPort              = 18100
	defaultLogLevel          = 4
	defaultNetwork           = domain.NetworkBitcoin
	defaultProfilerPort      = 18101
	defaultStatsInterval     = 600 // 10 minutes
	defaultProbeTimeout      = 2000
	defaultDiscoveryInterval = 2000
	defaultSigningTimeout    = 600 // 10 minutes
	defaultHwiPath           = "hwi"
	defaultHwiWalletName     = "quorum"

	supportedNetworks = supportedType{
		domain.NetworkBitcoin: {},
		domain.NetworkTestnet: {},
		domain.NetworkSignet:  {},
		domain.NetworkRegtest: {},
	}
	SupportedDbs = supportedType{
		"badger":   {},
		"inmemory": {},
		"postgres": {},
	}
)

func init() {
	vip = viper.New()
	vip.SetEnvPrefix("QUORUM")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(DatabaseTypeKey, defaultDbType)
	vip.SetDefault(PortKey, defaultPort)
	vip.SetDefault(NetworkKey, defaultNetwork)
	vip.SetDefault(LogLevelKey, defaultLogLevel)
	vip.SetDefault(NoTLSKey, false)
	vip.SetDefault(NoProfilerKey, false)
	vip.SetDefault(ProfilerPortKey, defaultProfilerPort)
	vip.SetDefault(StatsIntervalKey, defaultStatsInterval)
	vip.SetDefault(HwiPathKey, defaultHwiPath)
	vip.SetDefault(HwiWalletNameKey, defaultHwiWalletName)
	vip.SetDefault(NoHwiKey, false)
	vip.SetDefault(ProviderInsecureKey, false)
	vip.SetDefault(ProbeTimeoutKey, defaultProbeTimeout)
	vip.SetDefault(DiscoveryIntervalKey, defaultDiscoveryInterval)
	vip.SetDefault(SigningTimeoutKey, defaultSigningTimeout)
	vip.SetDefault(DbUserKey, "root")
	vip.SetDefault(DbPassKey, "secret")
	vip.SetDefault(DbHostKey, "127.0.0.1")
	vip.SetDefault(DbPortKey, 5432)
	vip.SetDefault(DbNameKey, "quorumd-db-pg")
	vip.SetDefault(DbMigrationPath, "file://internal/infrastructure/storage/db/postgres/migration")

	if err := validate(); err != nil {
		log.Fatalf("invalid config: %s", err)
	}

	if err := initDatadir(); err != nil {
		log.Fatalf("config: error while creating datadir: %s", err)
	}
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("datadir must not be null")
	}

	net := domain.NormalizeNetwork(GetString(NetworkKey))
	if len(net) == 0 {
		return fmt.Errorf("network must not be null")
	}
	if _, ok := supportedNetworks[net]; !ok {
		return fmt.Errorf("unknown network, must be one of: %s", supportedNetworks)
	}

	dbType := GetString(DatabaseTypeKey)
	if _, ok := SupportedDbs[dbType]; !ok {
		return fmt.Errorf("unsupported database type, must be one of %s", SupportedDbs)
	}

	if desc := GetString(WalletDescriptorKey); desc != "" {
		d, err := descriptor.Parse(desc)
		if err != nil {
			return fmt.Errorf("invalid wallet descriptor: %s", err)
		}
		descNet, err := d.Network()
		if err != nil {
			return fmt.Errorf("invalid wallet descriptor: %s", err)
		}
		if !domain.SameNetwork(descNet, net) {
			return fmt.Errorf(
				"wallet descriptor network %s does not match %s", descNet, net,
			)
		}
	}

	if len(GetStringSlice(HotSignersKey)) > 0 &&
		GetString(HotSignerPasswordKey) == "" {
		return fmt.Errorf("hot signer password must not be null")
	}

	if _, err := GetProviderServices(); err != nil {
		return err
	}
	if _, err := GetMinFirmwareVersions(); err != nil {
		return err
	}

	for _, key := range []string{
		ProbeTimeoutKey, DiscoveryIntervalKey, SigningTimeoutKey,
	} {
		if GetInt(key) <= 0 {
			return fmt.Errorf("%s must be a positive number", strings.ToLower(key))
		}
	}

	port := GetInt(PortKey)
	noProfiler := GetBool(NoProfilerKey)
	if !noProfiler {
		profilerPort := GetInt(ProfilerPortKey)
		if port == profilerPort {
			return fmt.Errorf("port and profiler port must not be equal")
		}
	}

	return nil
}

func GetDatadir() string {
	return filepath.Join(GetString(DatadirKey), GetNetwork())
}

func GetNetwork() string {
	return domain.NormalizeNetwork(GetString(NetworkKey))
}

// GetProviderServices returns the address of every configured remote
// signing service, by name.
func GetProviderServices() (map[string]string, error) {
	return parseKeyValues(ProviderServicesKey, func(_, addr string) error {
		if !strings.Contains(addr, ":") {
			return fmt.Errorf("address %s must be in the form host:port", addr)
		}
		return nil
	})
}

// GetMinFirmwareVersions returns the minimum firmware version by vendor or
// vendor/model.
func GetMinFirmwareVersions() (map[string]string, error) {
	return parseKeyValues(MinFirmwareVersionsKey, func(_, version string) error {
		_, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
		return err
	})
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetStringSlice(key string) []string {
	return vip.GetStringSlice(key)
}

func Set(key string, val interface{}) {
	vip.Set(key, val)
}

func Unset(key string) {
	vip.Set(key, nil)
}

func IsSet(key string) bool {
	return vip.IsSet(key)
}

func initDatadir() error {
	datadir := GetDatadir()
	if err := makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation)); err != nil {
		return err
	}
	if err := makeDirectoryIfNotExists(
		filepath.Join(datadir, MnemonicsLocation),
	); err != nil {
		return err
	}

	noProfiler := GetBool(NoProfilerKey)
	if !noProfiler {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, ProfilerLocation)); err != nil {
			return err
		}
	}

	noTls := GetBool(NoTLSKey)
	if noTls {
		return nil
	}
	if err := makeDirectoryIfNotExists(filepath.Join(datadir, TLSLocation)); err != nil {
		return err
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

// parseKeyValues parses the list of <key>=<value> entries of the given
// config key.
func parseKeyValues(
	key string, check func(k, v string) error,
) (map[string]string, error) {
	entries := GetStringSlice(key)
	m := make(map[string]string, len(entries))
	for _, entry := range entries {
		k, v, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf(
				"invalid %s entry %q, must be in the form <key>=<value>",
				strings.ToLower(key), entry,
			)
		}
		if err := check(k, v); err != nil {
			return nil, fmt.Errorf(
				"invalid %s entry %q: %s", strings.ToLower(key), entry, err,
			)
		}
		m[k] = v
	}
	return m, nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}
