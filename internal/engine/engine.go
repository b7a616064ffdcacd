package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/richjun-project/vibescan/internal/scan"
)

// ProgressFunc receives staged progress while a scan runs. Percent is
// non-decreasing across a single Run.
type ProgressFunc func(percent int, message string)

// Engine executes one security assessment against a domain. Exactly
// one terminal outcome per accepted job: a Result or an error.
type Engine interface {
	Run(ctx context.Context, domain string, report ProgressFunc) (*scan.Result, error)
}

// Config tunes the built-in engine.
type Config struct {
	Timeout         time.Duration
	PortConcurrency int
}

// DomainEngine is the built-in scanner: DNS resolution, TLS and
// certificate checks, HTTP security headers, cookie flags, and an
// exposed-service sweep over commonly abused ports.
type DomainEngine struct {
	logger          *slog.Logger
	client          *http.Client
	resolver        *net.Resolver
	timeout         time.Duration
	portConcurrency int
}

var _ Engine = (*DomainEngine)(nil)

func NewDomainEngine(logger *slog.Logger, cfg *Config) *DomainEngine {
	timeout := 10 * time.Second
	portConcurrency := 50
	if cfg != nil {
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		if cfg.PortConcurrency > 0 {
			portConcurrency = cfg.PortConcurrency
		}
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // probe misconfigured hosts too
		},
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
		MaxIdleConnsPerHost: 10,
	}

	return &DomainEngine{
		logger: logger,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		resolver:        net.DefaultResolver,
		timeout:         timeout,
		portConcurrency: portConcurrency,
	}
}

// Run walks the check stages in order, reporting progress between
// stages. Unreachable domains are a hard failure; individual check
// errors degrade to findings or are skipped.
func (e *DomainEngine) Run(ctx context.Context, domain string, report ProgressFunc) (*scan.Result, error) {
	if report == nil {
		report = func(int, string) {}
	}

	report(5, "resolving domain")
	addrs, err := e.resolver.LookupHost(ctx, domain)
	if err != nil || len(addrs) == 0 {
		return nil, fmt.Errorf("domain did not resolve: %w", err)
	}

	var findings []scan.Finding

	report(15, "inspecting TLS configuration")
	tlsFindings, tlsOK := e.checkTLS(ctx, domain)
	findings = append(findings, tlsFindings...)

	report(40, "checking security headers")
	resp, headerFindings := e.checkHeaders(ctx, domain, tlsOK)
	findings = append(findings, headerFindings...)

	report(60, "checking cookie attributes")
	if resp != nil {
		findings = append(findings, e.checkCookies(resp)...)
	}

	report(75, "sweeping for exposed services")
	findings = append(findings, e.sweepPorts(ctx, domain)...)

	report(95, "scoring results")
	result := Score(findings)

	e.logger.Info("engine run finished",
		"domain", domain,
		"findings", len(findings),
		"score", result.Score,
		"grade", result.Grade,
	)
	return result, nil
}
