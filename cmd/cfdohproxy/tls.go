package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
)

// serverTLSConfig builds the TLS config the DoH frontend serves with,
// grounded on the teacher's TLSServerConfig helper. Client certificates
// are never required: this proxy serves public DoH clients, not the
// teacher's admin/mutual-TLS listeners.
func serverTLSConfig(cfg config) (*tls.Config, error) {
	if cfg.ServerCrt == "" || cfg.ServerKey == "" {
		return nil, fmt.Errorf("server-crt and server-key are required unless no-tls is set")
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CA != "" {
		certPool := x509.NewCertPool()
		b, err := os.ReadFile(cfg.CA)
		if err != nil {
			return nil, err
		}
		if ok := certPool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("no CA certificates found in %s", cfg.CA)
		}
		tlsConfig.ClientCAs = certPool
	}

	cert, err := tls.LoadX509KeyPair(cfg.ServerCrt, cfg.ServerKey)
	if err != nil {
		return nil, err
	}
	tlsConfig.Certificates = []tls.Certificate{cert}
	return tlsConfig, nil
}

// trustedProxyAddr parses the optional trusted-proxy config value, used to
// gate X-Forwarded-For handling in the frontend.
func trustedProxyAddr(raw string) (net.IP, error) {
	if raw == "" {
		return nil, nil
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return nil, fmt.Errorf("invalid trusted-proxy address %q", raw)
	}
	return ip, nil
}
