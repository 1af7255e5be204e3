package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertDateFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"yyyy-MM-dd", "2006-01-02"},
		{"yyyy-MM-dd_HH-mm-ss", "2006-01-02_15-04-05"},
		{"yy", "06"},
		{"yyyyMMdd", "20060102"},
		{"dd.MM.yyyy", "02.01.2006"},
		{"hh-mm", "03-04"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ConvertDateFormat(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertDateFormat_RoundTripsThroughTime(t *testing.T) {
	layout, err := ConvertDateFormat("yyyy-MM-dd_HH-mm-ss")
	require.NoError(t, err)

	stamp := time.Date(2026, 8, 31, 23, 5, 9, 0, time.UTC)
	assert.Equal(t, "2026-08-31_23-05-09", stamp.Format(layout))
}

func TestConvertDateFormat_UnknownTokens(t *testing.T) {
	for _, in := range []string{"qq", "yyy", "yyyy-MM-dd-f", "MMM"} {
		t.Run(in, func(t *testing.T) {
			_, err := ConvertDateFormat(in)
			assert.Error(t, err)
		})
	}
}

func TestConvertDateFormat_SeparatorsPreserved(t *testing.T) {
	got, err := ConvertDateFormat("yyyy_MM__dd")
	require.NoError(t, err)
	assert.Equal(t, "2006_01__02", got)
}
