package scan

import "errors"

// Admission errors are user-correctable and surface directly to the
// caller. State errors indicate a protocol violation by the execution
// engine or a lost race; the offending call is rejected and the scan
// keeps its last valid state.
var (
	ErrScanNotFound        = errors.New("scan not found")
	ErrDuplicateActiveScan = errors.New("an active scan already exists for this domain")
	ErrInvalidDomain       = errors.New("invalid domain")
	ErrBlockedDomain       = errors.New("domain is not allowed")
	ErrInvalidTransition   = errors.New("invalid scan state transition")
	ErrStaleProgress       = errors.New("stale progress update")
	ErrForbidden           = errors.New("not the scan owner")
	ErrQueueUnavailable    = errors.New("scan queue unavailable")
)
