package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeFlag(t *testing.T) {
	t.Run("rfc3339", func(t *testing.T) {
		got, err := parseTimeFlag("2024-01-15T10:00:00Z")
		require.NoError(t, err)
		assert.Equal(t, int64(1705312800), got.Unix())
	})

	t.Run("unix seconds", func(t *testing.T) {
		got, err := parseTimeFlag("1705312800")
		require.NoError(t, err)
		assert.Equal(t, int64(1705312800), got.Unix())
	})

	t.Run("now offset", func(t *testing.T) {
		got, err := parseTimeFlag("now-1h")
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(-time.Hour), got, 5*time.Second)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := parseTimeFlag("")
		require.NoError(t, err)
		assert.True(t, got.IsZero())
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseTimeFlag("yesterday")
		assert.Error(t, err)
	})
}

func TestParseDurationFlag(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{"1d", 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDurationFlag(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseDurationFlag("soon")
	assert.Error(t, err)
}

func TestResolveRange(t *testing.T) {
	t.Run("explicit window", func(t *testing.T) {
		start, end, err := resolveRange("2024-01-15T00:00:00Z", "2024-01-15T12:00:00Z", "")
		require.NoError(t, err)
		assert.Equal(t, 12*time.Hour, end.Sub(start))
	})

	t.Run("range ending now", func(t *testing.T) {
		start, end, err := resolveRange("", "", "6h")
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), end, 5*time.Second)
		assert.Equal(t, 6*time.Hour, end.Sub(start))
	})

	t.Run("default window", func(t *testing.T) {
		start, end, err := resolveRange("", "", "")
		require.NoError(t, err)
		assert.Equal(t, time.Hour, end.Sub(start))
	})

	t.Run("range conflicts with start", func(t *testing.T) {
		_, _, err := resolveRange("2024-01-15T00:00:00Z", "", "1h")
		assert.Error(t, err)
	})

	t.Run("inverted window", func(t *testing.T) {
		_, _, err := resolveRange("2024-01-15T12:00:00Z", "2024-01-15T00:00:00Z", "")
		assert.Error(t, err)
	})
}
