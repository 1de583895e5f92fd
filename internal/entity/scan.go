package entity

import (
	"fmt"
	"time"
)

// Verdict is one provider's classification of a URL.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictClean
	VerdictMalicious
)

func (v Verdict) String() string {
	switch v {
	case VerdictUnknown:
		return "unknown"
	case VerdictClean:
		return "clean"
	case VerdictMalicious:
		return "malicious"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// ScanResult maps the verdict onto the value persisted in scan_records.
func (v Verdict) ScanResult() ScanResult {
	switch v {
	case VerdictMalicious:
		return ScanResultDanger
	case VerdictClean:
		return ScanResultSafe
	default:
		return ScanResultInconclusive
	}
}

// ScanResult is the persisted form of a provider verdict.
type ScanResult string

const (
	ScanResultDanger       ScanResult = "DANGER"
	ScanResultSafe         ScanResult = "SAFE"
	ScanResultInconclusive ScanResult = "INCONCLUSIVE"
)

// Classification is what a provider reports for a single URL.
type Classification struct {
	Verdict Verdict // Verdict is the provider's classification.
	Detail  string  // Detail is free text explaining the verdict.
}

// ScanRecord is the latest evidence of one provider about one URL.
// At most one record exists per (URL, ScanType) pair.
type ScanRecord struct {
	ID        int64      // ID is the unique identifier of the record in the database.
	URL       string     // URL is the checked target.
	ScanType  string     // ScanType is the name of the provider that produced the record.
	Result    ScanResult // Result is the provider verdict in persisted form.
	Detail    string     // Detail is free text from the provider.
	Timestamp time.Time  // Timestamp is when the pair was last evaluated.
}
