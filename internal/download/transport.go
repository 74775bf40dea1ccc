package download

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// TransportConfig sizes the connection pool shared by discovery and downloads.
type TransportConfig struct {
	MaxIdleConns       int
	InsecureSkipVerify bool
	// ResponseHeaderTimeout bounds the wait for headers after the request is sent.
	ResponseHeaderTimeout time.Duration
}

// NewTransport builds the shared pooled transport.
func NewTransport(cfg TransportConfig) *http.Transport {
	pool := cfg.MaxIdleConns
	if pool <= 0 {
		pool = 20
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxIdleConns:          pool,
		MaxIdleConnsPerHost:   pool,
		IdleConnTimeout:       90 * time.Second,
		// #nosec G402 -- opt-in for sites with broken certificate chains.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
	}
}
