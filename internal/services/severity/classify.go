package severity

import (
	"errors"
	"fmt"
	"time"

	"secmap/internal/domain"
)

// Classifiers map one raw scan outcome to a severity contribution. Each table
// is fixed and total over the valid outcomes of its finding type; anything
// outside the table is an error surfaced to the caller, never a silent zero.

var (
	ErrUnknownFindingType = errors.New("unknown finding type")
	ErrMalformedOutcome   = errors.New("malformed outcome")
)

// Contribution is the severity a single scan event adds to a moment.
type Contribution struct {
	High   int
	Medium int
	Low    int

	Explanation                string
	IsExplained                bool
	ExplainedValidAtReportTime bool
}

// Registered finding types.
const (
	TypeTLSQualys      = "tls_qualys"
	TypeHSTS           = "security_headers_strict_transport_security"
	TypeXContentType   = "security_headers_x_content_type_options"
	TypeXFrameOptions  = "security_headers_x_frame_options"
	TypeXXSSProtection = "security_headers_x_xss_protection"
	TypePlainHTTPS     = "plain_https"
	TypeFTP            = "ftp"
	TypeDNSSEC         = "DNSSEC"
)

type classifier func(outcome string) (Contribution, bool)

// registry is the static dispatch table, built once at startup. An unknown
// finding type is a hard error for the enclosing calculation.
var registry = map[string]classifier{
	TypeTLSQualys:      tlsQualys,
	TypeHSTS:           strictTransportSecurity,
	TypeXContentType:   lowRiskHeader,
	TypeXFrameOptions:  lowRiskHeader,
	TypeXXSSProtection: lowRiskHeader,
	TypePlainHTTPS:     plainHTTPS,
	TypeFTP:            ftp,
	TypeDNSSEC:         dnssec,
}

// urlLevel marks finding types attached to the URL itself rather than to one
// of its endpoints.
var urlLevel = map[string]bool{
	TypeDNSSEC: true,
}

// Known reports whether a classifier is registered for the finding type.
func Known(findingType string) bool {
	_, ok := registry[findingType]
	return ok
}

// URLLevel reports whether the finding type applies to the URL rather than an
// endpoint. Currently DNS security only.
func URLLevel(findingType string) bool { return urlLevel[findingType] }

// Classify maps a scan event to its severity contribution, dispatched on the
// event's finding type. reportTime decides whether a comply-or-explain
// justification is still valid.
func Classify(ev domain.ScanEvent, reportTime time.Time) (Contribution, error) {
	cl, ok := registry[ev.Type]
	if !ok {
		return Contribution{}, fmt.Errorf("scan %d: %w: %q", ev.ID, ErrUnknownFindingType, ev.Type)
	}
	c, ok := cl(ev.Outcome)
	if !ok {
		return Contribution{}, fmt.Errorf("scan %d (%s): %w: %q", ev.ID, ev.Type, ErrMalformedOutcome, ev.Outcome)
	}
	c.Explanation = ev.Explanation
	c.IsExplained = ev.IsExplained
	c.ExplainedValidAtReportTime = ev.IsExplained && ev.ExplainedUntil.After(reportTime)
	return c, nil
}

// tlsQualys rates SSL Labs letter grades: F and T (trust issues) are high,
// D and I medium, B and C low, the A grades clean.
func tlsQualys(outcome string) (Contribution, bool) {
	switch outcome {
	case "F", "T":
		return Contribution{High: 1}, true
	case "D", "I":
		return Contribution{Medium: 1}, true
	case "B", "C":
		return Contribution{Low: 1}, true
	case "A+", "A", "A-":
		return Contribution{}, true
	}
	return Contribution{}, false
}

// strictTransportSecurity: a missing HSTS header is medium, unless the site
// offers no insecure fallback at all, in which case there is nothing to
// protect against downgrade.
func strictTransportSecurity(outcome string) (Contribution, bool) {
	switch outcome {
	case "missing":
		return Contribution{Medium: 1}, true
	case "missing_no_insecure_fallback", "present":
		return Contribution{}, true
	}
	return Contribution{}, false
}

// lowRiskHeader covers the hardening headers whose absence is a low finding:
// X-Content-Type-Options, X-Frame-Options, X-XSS-Protection.
func lowRiskHeader(outcome string) (Contribution, bool) {
	switch outcome {
	case "missing":
		return Contribution{Low: 1}, true
	case "present":
		return Contribution{}, true
	}
	return Contribution{}, false
}

// plainHTTPS: a site reachable only over plain HTTP is high; an insecure
// redirect chain before reaching HTTPS is medium.
func plainHTTPS(outcome string) (Contribution, bool) {
	switch outcome {
	case "no_https":
		return Contribution{High: 1}, true
	case "insecure_redirect":
		return Contribution{Medium: 1}, true
	case "https_available":
		return Contribution{}, true
	}
	return Contribution{}, false
}

// ftp posture: plaintext-only FTP is high, outdated TLS on FTP medium.
func ftp(outcome string) (Contribution, bool) {
	switch outcome {
	case "insecure":
		return Contribution{High: 1}, true
	case "outdated":
		return Contribution{Medium: 1}, true
	case "secure", "unknown":
		return Contribution{}, true
	}
	return Contribution{}, false
}

// dnssec: a broken chain of trust (ERROR) is high, a degraded one medium.
func dnssec(outcome string) (Contribution, bool) {
	switch outcome {
	case "ERROR":
		return Contribution{High: 1}, true
	case "WARNING":
		return Contribution{Medium: 1}, true
	case "OK":
		return Contribution{}, true
	}
	return Contribution{}, false
}
