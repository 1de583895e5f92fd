// Package entity defines the entities and errors used by the scanning pipeline.
// It includes the registry view of a shortened URL, per-provider scan records,
// blacklist entries and the closed verdict and status types that connect them.
package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrScanRecordsNotFound is returned when no scan records exist for the requested URL.
	ErrScanRecordsNotFound = errors.New("scan records not found")
	// ErrUnknownPolicy is returned when an all-unknown policy name cannot be parsed.
	ErrUnknownPolicy = errors.New("unknown all-unknown policy")
)

// URLStatus is the aggregate classification written back to the URL registry.
type URLStatus string

const (
	// URLStatusUnknown means the URL has not been classified yet.
	URLStatusUnknown URLStatus = ""
	// URLStatusSafe means no provider reported the URL as malicious.
	URLStatusSafe URLStatus = "Safe"
	// URLStatusDanger means at least one provider reported the URL as malicious.
	URLStatusDanger URLStatus = "Danger"
)

// URL is the part of a registry row the scanner reads and writes.
type URL struct {
	TargetURL string    // TargetURL is the original URL the short code resolves to.
	IsChecked bool      // IsChecked is set once a scan batch containing the URL completes.
	Status    URLStatus // Status is the aggregate classification of TargetURL.
}

// UnknownPolicy decides the aggregate status when no provider reported Malicious.
type UnknownPolicy int

const (
	// UnknownAsSafe classifies the URL as Safe even when every provider was inconclusive.
	UnknownAsSafe UnknownPolicy = iota
	// UnknownKeepsStatus classifies the URL as Safe only if at least one provider
	// returned Clean and otherwise leaves the registry status untouched.
	UnknownKeepsStatus
)

const (
	unknownAsSafeName      = "safe"
	unknownKeepsStatusName = "keep"
)

// ParseUnknownPolicy maps a configuration value to an UnknownPolicy.
func ParseUnknownPolicy(s string) (UnknownPolicy, error) {
	switch s {
	case "", unknownAsSafeName:
		return UnknownAsSafe, nil
	case unknownKeepsStatusName:
		return UnknownKeepsStatus, nil
	}

	return UnknownAsSafe, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

func (p UnknownPolicy) String() string {
	switch p {
	case UnknownAsSafe:
		return unknownAsSafeName
	case UnknownKeepsStatus:
		return unknownKeepsStatusName
	}
	return fmt.Sprintf("UnknownPolicy(%d)", int(p))
}

// Aggregate folds provider verdicts into a single URL status.
// Any Malicious verdict yields Danger. Otherwise the policy decides, and
// URLStatusUnknown means the registry status must be left as it is.
func Aggregate(verdicts []Verdict, policy UnknownPolicy) URLStatus {
	var clean bool

	for _, v := range verdicts {
		switch v {
		case VerdictMalicious:
			return URLStatusDanger
		case VerdictClean:
			clean = true
		case VerdictUnknown:
		}
	}

	switch policy {
	case UnknownKeepsStatus:
		if !clean {
			return URLStatusUnknown
		}
		return URLStatusSafe
	default:
		return URLStatusSafe
	}
}
