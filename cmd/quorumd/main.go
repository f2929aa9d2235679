package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	appconfig "github.com/vulpemventures/quorum/internal/app-config"
	"github.com/vulpemventures/quorum/internal/config"
	postgresdb "github.com/vulpemventures/quorum/internal/infrastructure/storage/db/postgres"
	"github.com/vulpemventures/quorum/internal/interfaces"
	ws_interface "github.com/vulpemventures/quorum/internal/interfaces/ws"
	"github.com/vulpemventures/quorum/pkg/profiler"
)

var (
	// Build info.
	version string
	commit  string
	date    string

	// Config from env vars.
	dbType            = config.GetString(config.DatabaseTypeKey)
	logLevel          = config.GetInt(config.LogLevelKey)
	datadir           = config.GetDatadir()
	port              = config.GetInt(config.PortKey)
	profilerPort      = config.GetInt(config.ProfilerPortKey)
	network           = config.GetNetwork()
	noTLS             = config.GetBool(config.NoTLSKey)
	noProfiler        = config.GetBool(config.NoProfilerKey)
	dbDir             = filepath.Join(datadir, config.DbLocation)
	tlsDir            = filepath.Join(datadir, config.TLSLocation)
	profilerDir       = filepath.Join(datadir, config.ProfilerLocation)
	mnemonicsDir      = filepath.Join(datadir, config.MnemonicsLocation)
	tlsExtraIPs       = config.GetStringSlice(config.TLSExtraIPKey)
	tlsExtraDomains   = config.GetStringSlice(config.TLSExtraDomainKey)
	statsInterval     = time.Duration(config.GetInt(config.StatsIntervalKey)) * time.Second
	walletDescriptor  = config.GetString(config.WalletDescriptorKey)
	hotSigners        = config.GetStringSlice(config.HotSignersKey)
	hotSignerPassword = config.GetString(config.HotSignerPasswordKey)
	providerInsecure  = config.GetBool(config.ProviderInsecureKey)
	noHwi             = config.GetBool(config.NoHwiKey)
	hwiPath           = config.GetString(config.HwiPathKey)
	hwiWalletName     = config.GetString(config.HwiWalletNameKey)
	probeTimeout      = time.Duration(config.GetInt(config.ProbeTimeoutKey)) * time.Millisecond
	discoveryInterval = time.Duration(config.GetInt(config.DiscoveryIntervalKey)) * time.Millisecond
	signingTimeout    = time.Duration(config.GetInt(config.SigningTimeoutKey)) * time.Second
)

func main() {
	log.SetLevel(log.Level(logLevel))

	providerServices, err := config.GetProviderServices()
	if err != nil {
		log.WithError(err).Fatal("config: invalid provider services")
	}
	minFirmwareVersions, err := config.GetMinFirmwareVersions()
	if err != nil {
		log.WithError(err).Fatal("config: invalid min firmware versions")
	}

	var repoManagerConfig interface{} = dbDir
	if dbType == "postgres" {
		repoManagerConfig = postgresdb.DbConfig{
			DbUser:             config.GetString(config.DbUserKey),
			DbPassword:         config.GetString(config.DbPassKey),
			DbHost:             config.GetString(config.DbHostKey),
			DbPort:             config.GetInt(config.DbPortKey),
			DbName:             config.GetString(config.DbNameKey),
			MigrationSourceURL: config.GetString(config.DbMigrationPath),
		}
	}

	serviceCfg := ws_interface.ServiceConfig{
		Port:         port,
		NoTLS:        noTLS,
		TLSLocation:  tlsDir,
		ExtraIPs:     tlsExtraIPs,
		ExtraDomains: tlsExtraDomains,
	}
	appCfg := &appconfig.AppConfig{
		Version:             version,
		Commit:              commit,
		Date:                date,
		Network:             network,
		WalletDescriptor:    walletDescriptor,
		RepoManagerType:     dbType,
		RepoManagerConfig:   repoManagerConfig,
		MnemonicsDir:        mnemonicsDir,
		HotSigners:          hotSigners,
		HotSignerPassword:   hotSignerPassword,
		ProviderServices:    providerServices,
		ProviderInsecure:    providerInsecure,
		NoHwi:               noHwi,
		HwiPath:             hwiPath,
		HwiWalletName:       hwiWalletName,
		MinFirmwareVersions: minFirmwareVersions,
		ProbeTimeout:        probeTimeout,
		DiscoveryInterval:   discoveryInterval,
		SigningTimeout:      signingTimeout,
	}

	serviceManager, err := interfaces.NewWsServiceManager(serviceCfg, appCfg)
	if err != nil {
		log.WithError(err).Fatal("service: error while initializing")
	}
	defer func() {
		serviceManager.Service.Stop()
	}()

	if profilerEnabled := !noProfiler; profilerEnabled {
		profilerSvc, err := profiler.NewService(profiler.ServiceOpts{
			Port:          profilerPort,
			StatsInterval: statsInterval,
			Datadir:       profilerDir,
			Reporters:     []profiler.Reporter{appCfg.Stats},
		})
		if err != nil {
			log.WithError(err).Fatal("profiler: error while starting")
		}

		if err := profilerSvc.Start(); err != nil {
			log.WithError(err).Fatal("profiler: error while starting")
		}
		defer func() {
			profilerSvc.Stop()
		}()
	}

	if err := serviceManager.Service.Start(); err != nil {
		log.WithError(err).Fatal("service: error while starting")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
}
