package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// aeadSuites only applies to TLS 1.2; Go picks TLS 1.3 suites itself.
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// DefaultTLSConfig returns TLS 1.2+ with AEAD-only cipher suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12, CipherSuites: append([]uint16(nil), aeadSuites...)}
}

// ConfigIf returns DefaultTLSConfig when enabled and nil otherwise, which is
// what the Redis and Mongo client options expect for "no TLS".
func ConfigIf(enabled bool) *tls.Config {
	if !enabled {
		return nil
	}
	return DefaultTLSConfig()
}

// WithCAFile extends the hardened config with a private root, e.g. for a
// self-hosted vLLM endpoint behind an internal CA. The system pool stays
// trusted. An empty path returns the default config.
func WithCAFile(path string) (*tls.Config, error) {
	cfg := DefaultTLSConfig()
	if path == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA file %s contains no PEM certificates", path)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// SecureTransport returns an http.Transport using tlsCfg, or the default
// hardened config when tlsCfg is nil. Plain-HTTP endpoints such as a local
// Ollama are unaffected.
func SecureTransport(tlsCfg *tls.Config) *http.Transport {
	if tlsCfg == nil {
		tlsCfg = DefaultTLSConfig()
	}
	return &http.Transport{
		TLSClientConfig: tlsCfg,
		Proxy:           http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		// 本地模型首 token 可能很慢，由 Client.Timeout 兜底
		ResponseHeaderTimeout: 0,
	}
}

// SecureHTTPClient returns a client for backend calls. The timeout bounds a
// whole completion, not just the connection.
func SecureHTTPClient(timeout time.Duration, tlsCfg *tls.Config) *http.Client {
	return &http.Client{Timeout: timeout, Transport: SecureTransport(tlsCfg)}
}
