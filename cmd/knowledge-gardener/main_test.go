// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

func TestDefaultKeys_Flattened(t *testing.T) {
	keys, err := defaultKeys()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8002/v1", keys["model.endpoint"])
	assert.Equal(t, "0 3 * * *", keys["pipeline.schedule"])
	assert.Equal(t, "5s", keys["stage.poll_interval"])
	assert.Contains(t, keys, "model.timeout", "embedded HTTP settings sit beside the section's own keys")
	for k, v := range keys {
		_, nested := v.(map[string]any)
		assert.False(t, nested, k)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	bindEnv()
	t.Setenv("KNOWLEDGE_GARDENER_STAGE_MAX_ITERATIONS", "7")
	t.Setenv("KNOWLEDGE_GARDENER_MODEL_API_KEY", "sk-test")
	t.Setenv("KNOWLEDGE_GARDENER_STORE_BACKEND", "sqlite")

	require.NoError(t, loadConfig())
	assert.Equal(t, 7, cfg.Stage.MaxIterations)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.EqualValues(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.Stage.PollInterval)
	assert.Equal(t, "http://localhost:9621", cfg.LightRAG.BaseURL)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"", "console", "json"} {
		l, err := newLogger(types.LogConfig{Level: "debug", Format: format})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
	_, err := newLogger(types.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
	_, err = newLogger(types.LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}
