// Package health decides whether the gateway is ready to serve. The gateway
// negotiates its own protocol before speaking HTTP, so TCP reachability is
// the primary signal and HTTP status endpoints are only confirmation.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// ErrTimeout is returned when neither TCP nor HTTP answered within the
// probing window.
var ErrTimeout = errors.New("health check timed out")

// statusPaths are probed in order once TCP connects; the first 2xx wins.
var statusPaths = []string{"/health", "/v1/health", "/status", "/"}

const (
	tcpConnectTimeout = 2 * time.Second
	httpProbeTimeout  = 4 * time.Second
	probeWindow       = 30 * time.Second
	bodySnippetLimit  = 240
)

// Result is the outcome of one probe.
type Result struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	URL    string `json:"url"`
	Body   string `json:"body"`
}

// Prober checks gateway readiness with retry/backoff.
type Prober struct {
	dial       func(ctx context.Context, addr string) (net.Conn, error)
	httpClient *http.Client
	window     time.Duration
}

func NewProber() *Prober {
	dialer := &net.Dialer{Timeout: tcpConnectTimeout}
	return &Prober{
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		},
		httpClient: &http.Client{Timeout: httpProbeTimeout},
		window:     probeWindow,
	}
}

// Probe attempts TCP connects under backoff until the window closes, then
// confirms over HTTP. A TCP success without any HTTP answer still counts as
// healthy.
func (p *Prober) Probe(ctx context.Context, host string, port uint16) (Result, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	operation := func() error {
		conn, err := p.dial(ctx, addr)
		if err != nil {
			return err
		}
		_ = conn.Close()
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxInterval = 5 * time.Second
	expBackoff.MaxElapsedTime = p.window
	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return Result{}, fmt.Errorf("%w: tcp connect to %s: %v", ErrTimeout, addr, err)
	}

	if result, ok := p.probeHTTP(ctx, host, port); ok {
		return result, nil
	}
	// The port accepts connections but no status endpoint answered; the
	// gateway speaks its own protocol first, so that is still healthy.
	log.Debugf("health: tcp ok on %s, no http status endpoint answered", addr)
	return Result{OK: true, URL: "tcp://" + addr}, nil
}

func (p *Prober) probeHTTP(ctx context.Context, host string, port uint16) (Result, bool) {
	for _, path := range statusPaths {
		url := fmt.Sprintf("http://%s%s", net.JoinHostPort(host, fmt.Sprintf("%d", port)), path)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLimit+1))
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			snippet := strings.TrimSpace(string(body))
			if len(snippet) > bodySnippetLimit {
				snippet = snippet[:bodySnippetLimit]
			}
			return Result{OK: true, Status: resp.StatusCode, URL: url, Body: snippet}, true
		}
	}
	return Result{}, false
}
