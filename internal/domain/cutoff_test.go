package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("12:35")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 12, Minute: 35}, tod)
	assert.Equal(t, "12:35", tod.String())
}

func TestParseTimeOfDay_Invalid(t *testing.T) {
	for _, s := range []string{"", "1235", "25:00", "12:60", "noon"} {
		_, err := ParseTimeOfDay(s)
		require.ErrorIs(t, err, ErrInvalidCutoff, s)
	}
}

func TestDecide(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	cutoff := TimeOfDay{Hour: 12, Minute: 35}
	at := func(h, m, s int) time.Time {
		return time.Date(2024, time.March, 16, h, m, s, 0, jakarta)
	}

	tests := []struct {
		name  string
		now   time.Time
		found bool
		want  Decision
	}{
		{"found before cutoff", at(6, 0, 0), true, Proceed},
		{"found after cutoff", at(23, 59, 0), true, Proceed},
		{"found exactly at cutoff", at(12, 35, 0), true, Proceed},
		{"missing at cutoff", at(12, 35, 0), false, SkipToday},
		{"missing one minute before cutoff", at(12, 34, 0), false, Wait},
		{"missing one second before cutoff", at(12, 34, 59), false, Wait},
		{"missing after cutoff", at(13, 0, 0), false, SkipToday},
		{"missing early morning", at(0, 0, 0), false, Wait},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.now, cutoff, tt.found))
		})
	}
}

func TestDecide_UsesLocationOfNow(t *testing.T) {
	cutoff := TimeOfDay{Hour: 12, Minute: 35}
	// 05:00 UTC is 12:00 in UTC+7, so still before the cutoff there.
	now := time.Date(2024, time.March, 16, 5, 0, 0, 0, time.UTC).In(time.FixedZone("WIB", 7*3600))
	assert.Equal(t, Wait, Decide(now, cutoff, false))
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "PROCEED", Proceed.String())
	assert.Equal(t, "WAIT", Wait.String())
	assert.Equal(t, "SKIP_TODAY", SkipToday.String())
	assert.Equal(t, "Decision(9)", Decision(9).String())
}
