package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adgenius/config"
)

func TestConfigInit(t *testing.T) {
	prevPath, prevForce := configPath, forceInit
	t.Cleanup(func() { configPath, forceInit = prevPath, prevForce })

	configPath = filepath.Join(t.TempDir(), "conf", "adgenius.yaml")
	forceInit = false

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, runConfigInit(cmd, nil))
	assert.Contains(t, out.String(), configPath)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "documents_dir")

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Fetch, cfg.Fetch)
	assert.Equal(t, 3, cfg.Generation.MaxAttempts)

	assert.ErrorContains(t, runConfigInit(cmd, nil), "already exists")

	forceInit = true
	assert.NoError(t, runConfigInit(cmd, nil))
}
