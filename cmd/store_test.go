//go:build !integration

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/retention-cli/internal/config"
)

func withTestConfig(t *testing.T, c *config.Config) {
	t.Helper()

	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestInitStore_SQLite(t *testing.T) {
	withTestConfig(t, &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: ":memory:"},
	})

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close()

	assert.NotNil(t, st)
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	withTestConfig(t, &config.Config{
		Store: config.StoreConfig{Driver: "sqlite"},
	})

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close()

	assert.NotNil(t, st)
}

func TestInitStore_UnknownDriver(t *testing.T) {
	withTestConfig(t, &config.Config{
		Store: config.StoreConfig{Driver: "oracle"},
	})

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestNewEngine_UsesConfig(t *testing.T) {
	withTestConfig(t, &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: ":memory:"},
		Risk:  config.RiskConfig{WindowDays: 7, ValidityHours: 12},
	})

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close()

	assert.NotNil(t, newEngine(st))
}
