package domain

import (
	"errors"
	"strings"

	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
)

// Status is the explicit verification state derived from the stored
// customer columns.
type Status string

const (
	StatusNone      Status = "NONE"
	StatusRequested Status = "REQUESTED"
	StatusPending   Status = "PENDING"
	StatusVerified  Status = "VERIFIED"
)

// DeriveStatus classifies the stored domain columns. REQUESTED means the
// registration exists but no validation poll has run yet; PENDING means
// at least one poll came back not-yet-valid.
func DeriveStatus(customer *customerdomain.Customer) Status {
	if customer == nil || customer.DomainProviderID == nil || customer.SendingDomain == nil {
		return StatusNone
	}
	if strings.TrimSpace(*customer.SendingDomain) == "" {
		return StatusNone
	}
	if customer.DomainVerified {
		return StatusVerified
	}
	if customer.DomainCheckedAt == nil {
		return StatusRequested
	}
	return StatusPending
}

const maxHostnameLength = 253

var ErrInvalidDomain = errors.New("invalid_domain")

// NormalizeHostname lowercases and validates a candidate sending domain:
// at least two dot-separated labels, each 1-63 alphanumeric or hyphen
// characters with no leading or trailing hyphen, 253 chars total.
func NormalizeHostname(raw string) (string, error) {
	hostname := strings.ToLower(strings.TrimSpace(raw))
	if hostname == "" || len(hostname) > maxHostnameLength {
		return "", ErrInvalidDomain
	}
	labels := strings.Split(hostname, ".")
	if len(labels) < 2 {
		return "", ErrInvalidDomain
	}
	for _, label := range labels {
		if !validLabel(label) {
			return "", ErrInvalidDomain
		}
	}
	return hostname, nil
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}
