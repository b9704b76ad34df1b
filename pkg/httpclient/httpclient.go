package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"

	"github.com/sabio/ops-chat-gateway/pkg/settings"
)

const (
	userAgent = "ops-chat-gateway/1.0"

	dialTimeout     = 10 * time.Second
	tcpKeepAlive    = 30 * time.Second
	idleConnTimeout = 90 * time.Second
	maxIdlePerHost  = 16
)

// NewUpstream builds the client used for model provider calls. It honours the
// configured proxies (or the standard proxy environment variables) and can be
// pinned to HTTP/1.1.
func NewUpstream(s *settings.Settings, logger log.Logger) (*resty.Client, error) {
	proxy, err := proxyFunc(s.HTTPProxy, s.HTTPSProxy)
	if err != nil {
		return nil, err
	}

	transport := newTransport(proxy, s.ForceHTTP1)

	client := resty.New().
		SetTransport(transport).
		SetTimeout(s.ModelTimeout).
		SetHeader("User-Agent", userAgent).
		SetLogger(restyLogger{logger})

	return client, nil
}

// NewInternal builds the client used to reach the monitoring adapters. It
// never goes through a proxy.
func NewInternal(timeout time.Duration, logger log.Logger) *resty.Client {
	return resty.New().
		SetTransport(newTransport(nil, false)).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetLogger(restyLogger{logger})
}

func newTransport(proxy func(*http.Request) (*url.URL, error), forceHTTP1 bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: tcpKeepAlive,
	}

	t := &http.Transport{
		Proxy:                 proxy,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     !forceHTTP1,
	}

	if forceHTTP1 {
		var protocols http.Protocols
		protocols.SetHTTP1(true)
		t.Protocols = &protocols
	}

	return t
}

// proxyFunc picks the explicit proxy for the request scheme, falling back to
// the environment when neither is configured.
func proxyFunc(httpProxy, httpsProxy string) (func(*http.Request) (*url.URL, error), error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment, nil
	}

	var httpURL, httpsURL *url.URL
	var err error
	if httpProxy != "" {
		if httpURL, err = url.Parse(httpProxy); err != nil {
			return nil, fmt.Errorf("invalid http proxy: %w", err)
		}
	}
	if httpsProxy != "" {
		if httpsURL, err = url.Parse(httpsProxy); err != nil {
			return nil, fmt.Errorf("invalid https proxy: %w", err)
		}
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" && httpsURL != nil {
			return httpsURL, nil
		}
		if req.URL.Scheme == "http" && httpURL != nil {
			return httpURL, nil
		}
		return http.ProxyFromEnvironment(req)
	}, nil
}

// restyLogger routes resty's internal logging through the plugin logger
type restyLogger struct {
	logger log.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}
