package ws_interface

import (
	"crypto/tls"
	"fmt"
	"net"
	"path/filepath"
	"time"
)

const (
	minPort = 1024
	maxPort = 49151

	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
)

type ServiceConfig struct {
	Port         int
	NoTLS        bool
	TLSLocation  string
	ExtraIPs     []string
	ExtraDomains []string
	// PingInterval is the interval between two keepalive pings, defaults to
	// 30 seconds.
	PingInterval time.Duration
}

func (c ServiceConfig) validate() error {
	if c.Port < minPort || c.Port > maxPort {
		return fmt.Errorf("port must be in range [%d, %d]", minPort, maxPort)
	}
	if !c.insecure() && c.TLSLocation == "" {
		return fmt.Errorf("missing TLS location")
	}
	for _, ip := range c.ExtraIPs {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("invalid extra ip %s", ip)
		}
	}
	return nil
}

func (c ServiceConfig) insecure() bool {
	return c.NoTLS
}

func (c ServiceConfig) address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c ServiceConfig) pingInterval() time.Duration {
	if c.PingInterval <= 0 {
		return defaultPingInterval
	}
	return c.PingInterval
}

func (c ServiceConfig) listener() (net.Listener, error) {
	return net.Listen("tcp", c.address())
}

func (c ServiceConfig) tlsConfig() (*tls.Config, error) {
	if c.insecure() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.tlsCertPath(), c.tlsKeyPath())
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		NextProtos:   []string{"http/1.1"},
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		},
	}, nil
}

func (c ServiceConfig) tlsKeyPath() string {
	return filepath.Join(c.TLSLocation, tlsKeyFile)
}

func (c ServiceConfig) tlsCertPath() string {
	return filepath.Join(c.TLSLocation, tlsCertFile)
}
