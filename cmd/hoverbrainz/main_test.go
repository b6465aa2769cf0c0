package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAndRelease_ClosesHardwareOnError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telemetry.ListenAddr = ""
	// The parent directory does not exist, so the IPC listener fails.
	cfg.IPC.SocketPath = filepath.Join(t.TempDir(), "missing", "hover.sock")
	controlCfg, err := cfg.ToControlConfig()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := &recorder{}
	closed := 0
	err = runAndRelease(ctx, cfg, controlCfg, fakeHardware(r), func() { closed++ }, discardLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
	assert.Equal(t, 1, closed)
	assert.NoError(t, ctx.Err(), "run should fail fast, not wait for the timeout")
}
