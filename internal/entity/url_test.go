package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		verdicts []Verdict
		policy   UnknownPolicy
		want     URLStatus
	}{
		{
			name:     "one malicious among unknowns",
			verdicts: []Verdict{VerdictMalicious, VerdictUnknown, VerdictUnknown},
			policy:   UnknownAsSafe,
			want:     URLStatusDanger,
		},
		{
			name:     "malicious wins over clean",
			verdicts: []Verdict{VerdictClean, VerdictClean, VerdictMalicious},
			policy:   UnknownKeepsStatus,
			want:     URLStatusDanger,
		},
		{
			name:     "clean and unknown",
			verdicts: []Verdict{VerdictClean, VerdictUnknown},
			policy:   UnknownAsSafe,
			want:     URLStatusSafe,
		},
		{
			name:     "all unknown is safe by default",
			verdicts: []Verdict{VerdictUnknown, VerdictUnknown, VerdictUnknown},
			policy:   UnknownAsSafe,
			want:     URLStatusSafe,
		},
		{
			name:     "all unknown keeps status",
			verdicts: []Verdict{VerdictUnknown, VerdictUnknown},
			policy:   UnknownKeepsStatus,
			want:     URLStatusUnknown,
		},
		{
			name:     "clean with keep policy",
			verdicts: []Verdict{VerdictUnknown, VerdictClean},
			policy:   UnknownKeepsStatus,
			want:     URLStatusSafe,
		},
		{
			name:     "no providers",
			verdicts: nil,
			policy:   UnknownAsSafe,
			want:     URLStatusSafe,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.verdicts, tt.policy))
		})
	}
}

func TestParseUnknownPolicy(t *testing.T) {
	t.Run("defaults to safe", func(t *testing.T) {
		p, err := ParseUnknownPolicy("")

		assert.NoError(t, err)
		assert.Equal(t, UnknownAsSafe, p)
	})

	t.Run("keep", func(t *testing.T) {
		p, err := ParseUnknownPolicy("keep")

		assert.NoError(t, err)
		assert.Equal(t, UnknownKeepsStatus, p)
		assert.Equal(t, "keep", p.String())
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseUnknownPolicy("danger")

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownPolicy)
	})
}

func TestVerdict_ScanResult(t *testing.T) {
	assert.Equal(t, ScanResultDanger, VerdictMalicious.ScanResult())
	assert.Equal(t, ScanResultSafe, VerdictClean.ScanResult())
	assert.Equal(t, ScanResultInconclusive, VerdictUnknown.ScanResult())
}
