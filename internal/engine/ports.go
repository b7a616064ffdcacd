package engine

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/internal/scan"
)

// Services that should never face the public internet. Severity
// reflects how bad direct exposure usually is.
var riskyPorts = map[int]struct {
	service  string
	severity models.Severity
}{
	21:    {"ftp", models.SeverityMedium},
	23:    {"telnet", models.SeverityHigh},
	25:    {"smtp", models.SeverityLow},
	110:   {"pop3", models.SeverityLow},
	135:   {"msrpc", models.SeverityHigh},
	139:   {"netbios-ssn", models.SeverityHigh},
	445:   {"microsoft-ds", models.SeverityCritical},
	1433:  {"mssql", models.SeverityHigh},
	3306:  {"mysql", models.SeverityHigh},
	3389:  {"rdp", models.SeverityHigh},
	5432:  {"postgresql", models.SeverityHigh},
	5900:  {"vnc", models.SeverityHigh},
	6379:  {"redis", models.SeverityCritical},
	9200:  {"elasticsearch", models.SeverityCritical},
	27017: {"mongodb", models.SeverityCritical},
}

// sweepPorts TCP-connects to commonly abused service ports and emits
// a finding per open one.
func (e *DomainEngine) sweepPorts(ctx context.Context, domain string) []scan.Finding {
	ports := make([]int, 0, len(riskyPorts))
	for p := range riskyPorts {
		ports = append(ports, p)
	}
	sort.Ints(ports)

	var (
		mu       sync.Mutex
		open     []int
		wg       sync.WaitGroup
		sem      = make(chan struct{}, e.portConcurrency)
		dialer   = &net.Dialer{Timeout: e.timeout}
	)

	for _, port := range ports {
		select {
		case <-ctx.Done():
			return nil
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			defer func() { <-sem }()

			conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(domain, strconv.Itoa(port)))
			if err != nil {
				return
			}
			conn.Close()

			mu.Lock()
			open = append(open, port)
			mu.Unlock()
		}(port)
	}
	wg.Wait()
	sort.Ints(open)

	findings := make([]scan.Finding, 0, len(open))
	for _, port := range open {
		info := riskyPorts[port]
		findings = append(findings, scan.Finding{
			Title:       fmt.Sprintf("Exposed %s service", info.service),
			Description: fmt.Sprintf("Port %d (%s) accepts connections from the public internet.", port, info.service),
			Severity:    info.severity,
			Category:    "network",
			Evidence:    fmt.Sprintf("tcp connect to %s:%d succeeded", domain, port),
		})
	}
	return findings
}
