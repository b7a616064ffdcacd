package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/internal/scan"
)

type headerCheck struct {
	header      string
	title       string
	description string
	severity    models.Severity
	httpsOnly   bool
}

var headerChecks = []headerCheck{
	{
		header:      "Strict-Transport-Security",
		title:       "Missing HSTS header",
		description: "Without Strict-Transport-Security, browsers may be downgraded to plain HTTP.",
		severity:    models.SeverityMedium,
		httpsOnly:   true,
	},
	{
		header:      "Content-Security-Policy",
		title:       "Missing Content-Security-Policy",
		description: "A CSP limits the damage of injected scripts. None is set.",
		severity:    models.SeverityMedium,
	},
	{
		header:      "X-Content-Type-Options",
		title:       "Missing X-Content-Type-Options",
		description: "Responses can be MIME-sniffed into executable content.",
		severity:    models.SeverityLow,
	},
	{
		header:      "X-Frame-Options",
		title:       "Missing X-Frame-Options",
		description: "Pages can be framed by other origins, enabling clickjacking.",
		severity:    models.SeverityMedium,
	},
	{
		header:      "Referrer-Policy",
		title:       "Missing Referrer-Policy",
		description: "Full URLs may leak to third parties through the Referer header.",
		severity:    models.SeverityInfo,
	},
}

// checkHeaders fetches the site root and flags missing security
// headers. The response is returned for the cookie check; it may be
// nil when the site is unreachable over HTTP entirely.
func (e *DomainEngine) checkHeaders(ctx context.Context, domain string, httpsAvailable bool) (*http.Response, []scan.Finding) {
	scheme := "https"
	if !httpsAvailable {
		scheme = "http"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+domain+"/", nil)
	if err != nil {
		return nil, nil
	}
	req.Header.Set("User-Agent", "VibeScan/1.0 (+https://vibescan.io)")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Debug("header probe failed", "domain", domain, "error", err)
		return nil, nil
	}
	// Headers are all we need; drain a little to allow reuse.
	io.CopyN(io.Discard, resp.Body, 4096)
	resp.Body.Close()

	var findings []scan.Finding
	for _, check := range headerChecks {
		if check.httpsOnly && scheme != "https" {
			continue
		}
		if resp.Header.Get(check.header) != "" {
			continue
		}
		findings = append(findings, scan.Finding{
			Title:       check.title,
			Description: check.description,
			Severity:    check.severity,
			Category:    "headers",
			Evidence:    fmt.Sprintf("GET %s://%s/ returned no %s header", scheme, domain, check.header),
		})
	}

	if server := resp.Header.Get("Server"); server != "" && strings.ContainsAny(server, "0123456789") {
		findings = append(findings, scan.Finding{
			Title:       "Server version disclosure",
			Description: "The Server header reveals software and version information useful to attackers.",
			Severity:    models.SeverityInfo,
			Category:    "headers",
			Evidence:    "Server: " + server,
		})
	}

	return resp, findings
}

// checkCookies flags session cookies set without Secure or HttpOnly.
func (e *DomainEngine) checkCookies(resp *http.Response) []scan.Finding {
	var findings []scan.Finding
	for _, cookie := range resp.Cookies() {
		if !cookie.Secure {
			findings = append(findings, scan.Finding{
				Title:       "Cookie without Secure flag",
				Description: "The cookie can be sent over plain HTTP and intercepted.",
				Severity:    models.SeverityMedium,
				Category:    "cookies",
				Evidence:    "Set-Cookie: " + cookie.Name,
			})
		}
		if !cookie.HttpOnly {
			findings = append(findings, scan.Finding{
				Title:       "Cookie without HttpOnly flag",
				Description: "The cookie is readable from JavaScript and exposed to XSS.",
				Severity:    models.SeverityLow,
				Category:    "cookies",
				Evidence:    "Set-Cookie: " + cookie.Name,
			})
		}
	}
	return findings
}
