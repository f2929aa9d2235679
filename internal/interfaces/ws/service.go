package ws_interface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	appconfig "github.com/vulpemventures/quorum/internal/app-config"
	"golang.org/x/net/http2"
)

const (
	wsPath          = "/v1/ws"
	shutdownTimeout = 5 * time.Second
)

type service struct {
	config    ServiceConfig
	appConfig *appconfig.AppConfig
	handler   *handler
	upgrader  websocket.Upgrader

	server *http.Server
	ctx    context.Context
	cancel context.CancelFunc
	conns  *sync.WaitGroup

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

func NewService(config ServiceConfig, appConfig *appconfig.AppConfig) (*service, error) {
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("service: %s", format)
		log.Infof(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("service: %s", format)
		log.WithError(err).Warnf(format, a...)
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %s", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %s", err)
	}

	if !config.insecure() {
		if err := generateTLSKeyPair(
			config.TLSLocation, config.ExtraIPs, config.ExtraDomains,
		); err != nil {
			return nil, fmt.Errorf("error while creating TLS keypair: %s", err)
		}
		logFn("created TLS keypair in path %s", config.TLSLocation)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &service{
		config:    config,
		appConfig: appConfig,
		handler:   newHandler(appConfig),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  &sync.WaitGroup{},
		log:    logFn,
		warn:   warnFn,
	}, nil
}

func (s *service) Start() error {
	if err := s.appConfig.LoadSigners(s.ctx); err != nil {
		return fmt.Errorf("failed to load signers: %s", err)
	}
	s.log("loaded signers")

	s.appConfig.DiscoveryService().Start()
	s.log("started signer discovery")

	lis, err := s.config.listener()
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           s.mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if !s.config.insecure() {
		tlsConfig, err := s.config.tlsConfig()
		if err != nil {
			lis.Close()
			return err
		}
		server.TLSConfig = tlsConfig
		if err := http2.ConfigureServer(server, &http2.Server{}); err != nil {
			lis.Close()
			return err
		}
	}
	s.server = server

	go s.serve(lis)

	s.log("start listening on %s", s.config.address())
	return nil
}

func (s *service) Stop() {
	s.cancel()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.warn(err, "failed to gracefully stop http server")
		}
		s.log("stopped http server")
	}
	s.conns.Wait()
	s.log("closed client connections")

	s.appConfig.Close()
	s.log("stopped application services and closed connection with db")
}

func (s *service) serve(lis net.Listener) {
	var err error
	if s.config.insecure() {
		err = s.server.Serve(lis)
	} else {
		err = s.server.ServeTLS(lis, "", "")
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("service: http server failed")
	}
}

func (s *service) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.handleConnection)
	return mux
}

func (s *service) handleConnection(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "service is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.warn(err, "failed to upgrade connection from %s", r.RemoteAddr)
		return
	}

	s.log("new connection from %s", r.RemoteAddr)
	s.conns.Add(1)
	defer s.conns.Done()

	c := newConn(
		ws, s.handler, s.appConfig.NotificationService(),
		s.config.pingInterval(), s.log, s.warn,
	)
	c.serve(s.ctx)
}

// checkOrigin accepts clients without origin, like the CLI, and browsers
// served by this same host.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}
	return u.Hostname() == host
}
