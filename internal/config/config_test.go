package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iudanet/collabsync/internal/models"
)

func TestNormalize_ZeroValue(t *testing.T) {
	cfg := &Config{}
	cfg.Normalize()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, DefaultReconnectAttempts, cfg.ReconnectAttempts)
	assert.Equal(t, DefaultReconnectDelay, cfg.ReconnectDelay)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, DefaultOnlineWindow, cfg.OnlineWindow)
	assert.Equal(t, DefaultDebounceDelay, cfg.DebounceDelay)
	assert.Equal(t, DefaultRetryAttempts, cfg.RetryAttempts)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	assert.Equal(t, uint64(DefaultMaxVersionSkew), cfg.MaxVersionSkew)
	assert.Equal(t, models.ResolutionManual, cfg.ConflictResolution)
}

func TestNormalize_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Enabled:            true,
		ReconnectAttempts:  1,
		ReconnectDelay:     time.Millisecond,
		ConflictResolution: models.ResolutionMerge,
		RetryAttempts:      7,
	}
	cfg.Normalize()

	assert.Equal(t, 1, cfg.ReconnectAttempts)
	assert.Equal(t, time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, models.ResolutionMerge, cfg.ConflictResolution)
	assert.Equal(t, 7, cfg.RetryAttempts)
}

func TestNormalize_UnknownResolutionMode(t *testing.T) {
	cfg := &Config{ConflictResolution: models.ResolutionMode("wat")}
	cfg.Normalize()

	assert.Equal(t, models.ResolutionManual, cfg.ConflictResolution)
}
