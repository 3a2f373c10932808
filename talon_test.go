package talon

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talonhq/talon/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Gateway.Provider = "mock"
	cfg.Embeddings.Provider = "hashing"
	cfg.Embeddings.Dimensions = 64
	cfg.Memory.DBPath = filepath.Join(dir, "talon.db")
	cfg.ChatHistory.Backend = "file"
	cfg.ChatHistory.Dir = filepath.Join(dir, "chat")
	return cfg
}

func TestAssistantProcessCommand(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(ctx)) }()

	res, err := a.ProcessCommand(ctx, "hello there", false)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Response)
	assert.NotEmpty(t, a.SessionID())
}

func TestAssistantChatHistorySurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg)
	require.NoError(t, err)

	_, err = a.ProcessCommand(ctx, "remember the milk", false)
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	b, err := New(ctx, cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Close(ctx)) }()

	turns := b.buffer.Turns()
	require.NotEmpty(t, turns)
	assert.Equal(t, "remember the milk", turns[0].Text)
}

func TestAssistantRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Provider = "telepathy"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestAssistantRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reflection.Schedule = "not a cron line"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
