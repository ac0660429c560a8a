package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepartementPattern(t *testing.T) {
	for _, code := range []string{"67", "01", "2A", "2B", "95"} {
		assert.True(t, departementPattern.MatchString(code), code)
	}
	for _, code := range []string{"", "6", "671", "AB", "2C", "67%"} {
		assert.False(t, departementPattern.MatchString(code), code)
	}
}

func TestStatusHandler(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)
	handler := StatusHandler(start)

	result, err := handler(context.Background(), &struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "01m 30s", result.Body.Uptime)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "05s", formatDuration(5*time.Second))
	assert.Equal(t, "02m 03s", formatDuration(2*time.Minute+3*time.Second))
	assert.Equal(t, "01h 00m 30s", formatDuration(time.Hour+30*time.Second))
	assert.Equal(t, "2d 03h 00m 00s", formatDuration(51*time.Hour))
}
