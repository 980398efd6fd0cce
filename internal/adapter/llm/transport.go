package llm

import (
	"net"
	"net/http"
	"time"

	"pixelchat/internal/infra/config"
)

// Default connection pool settings. Image calls are few and long, so the
// pool stays small and idle connections live long.
const (
	defaultMaxIdleConns        = 10
	defaultMaxIdleConnsPerHost = 5
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 120 * time.Second
)

// Default provider timeouts.
const (
	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling and
// the given dial and response-header timeouts.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout <= 0 {
		respTimeout = defaultRespTimeout
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = defaultMaxIdleConns
	}
	if pool.MaxIdleConnsPerHost <= 0 {
		pool.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}
	if pool.MaxConnsPerHost <= 0 {
		pool.MaxConnsPerHost = defaultMaxConnsPerHost
	}
	if pool.IdleConnTimeout <= 0 {
		pool.IdleConnTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          pool.MaxIdleConns,
		MaxIdleConnsPerHost:   pool.MaxIdleConnsPerHost,
		MaxConnsPerHost:       pool.MaxConnsPerHost,
		IdleConnTimeout:       pool.IdleConnTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient creates an *http.Client for a provider. The overall client
// timeout is left unset so streamed replies are bounded by the request
// context instead; the transport still enforces dial and header timeouts.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	return &http.Client{
		Transport: NewPooledTransport(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool),
	}
}
