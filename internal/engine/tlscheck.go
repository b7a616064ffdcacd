package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/internal/scan"
)

// checkTLS connects to port 443 and inspects the handshake and leaf
// certificate. Returns findings plus whether HTTPS is served at all.
func (e *DomainEngine) checkTLS(ctx context.Context, domain string) ([]scan.Finding, bool) {
	dialer := &net.Dialer{Timeout: e.timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(domain, "443"), &tls.Config{
		ServerName:         domain,
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS10, // accept old versions so we can report them
	})
	if err != nil {
		return []scan.Finding{{
			Title:       "No HTTPS service",
			Description: "The domain does not serve TLS on port 443. All traffic is sent in cleartext.",
			Severity:    models.SeverityHigh,
			Category:    "tls",
			Evidence:    err.Error(),
		}}, false
	}
	defer conn.Close()

	var findings []scan.Finding
	state := conn.ConnectionState()

	if state.Version < tls.VersionTLS12 {
		findings = append(findings, scan.Finding{
			Title:       "Outdated TLS version",
			Description: "The server negotiates a TLS version older than 1.2, which has known weaknesses.",
			Severity:    models.SeverityMedium,
			Category:    "tls",
			Evidence:    tls.VersionName(state.Version),
		})
	}

	if len(state.PeerCertificates) == 0 {
		return findings, true
	}
	cert := state.PeerCertificates[0]
	now := time.Now()

	switch {
	case now.After(cert.NotAfter):
		findings = append(findings, scan.Finding{
			Title:       "Expired TLS certificate",
			Description: "The certificate has expired; browsers will refuse the connection.",
			Severity:    models.SeverityCritical,
			Category:    "tls",
			Evidence:    fmt.Sprintf("expired %s", cert.NotAfter.Format(time.RFC3339)),
		})
	case now.Add(14 * 24 * time.Hour).After(cert.NotAfter):
		findings = append(findings, scan.Finding{
			Title:       "TLS certificate expiring soon",
			Description: "The certificate expires within 14 days.",
			Severity:    models.SeverityLow,
			Category:    "tls",
			Evidence:    fmt.Sprintf("expires %s", cert.NotAfter.Format(time.RFC3339)),
		})
	}

	if len(state.PeerCertificates) == 1 && cert.Issuer.String() == cert.Subject.String() {
		findings = append(findings, scan.Finding{
			Title:       "Self-signed TLS certificate",
			Description: "The certificate is not issued by a trusted authority.",
			Severity:    models.SeverityHigh,
			Category:    "tls",
			Evidence:    cert.Subject.String(),
		})
	}

	if err := cert.VerifyHostname(domain); err != nil {
		findings = append(findings, scan.Finding{
			Title:       "Certificate hostname mismatch",
			Description: "The certificate does not cover the scanned domain.",
			Severity:    models.SeverityHigh,
			Category:    "tls",
			Evidence:    err.Error(),
		})
	}

	return findings, true
}
