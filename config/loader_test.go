package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/answerflow/fusion"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, fusion.ModeRRF, cfg.Pipeline.Fusion.Mode)
	assert.Equal(t, 0.7, cfg.Pipeline.Gate.FaithfulnessThreshold)
	assert.Equal(t, "localhost", cfg.Qdrant.Host)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
log:
  level: debug
  format: console
pipeline:
  fusion:
    mode: hybrid
    rrf_k: 40
qdrant:
  host: qdrant.internal
  collection: episodes
neo4j:
  uri: bolt://graph.internal:7687
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, fusion.ModeHybrid, cfg.Pipeline.Fusion.Mode)
	assert.Equal(t, 40, cfg.Pipeline.Fusion.RRFK)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, "episodes", cfg.Qdrant.Collection)
	assert.Equal(t, "bolt://graph.internal:7687", cfg.Neo4j.URI)
	// 未覆盖的字段保持默认。
	assert.Equal(t, "answerflow:conv:", cfg.Redis.KeyPrefix)
}

func TestEnvOverridesYAML(t *testing.T) {
	t.Setenv("ANSWERFLOW_LOG_LEVEL", "warn")
	t.Setenv("ANSWERFLOW_QDRANT_PORT", "7333")
	t.Setenv("ANSWERFLOW_PIPELINE_GATE_FAITHFULNESS_THRESHOLD", "0.85")
	t.Setenv("ANSWERFLOW_LIMITER_REQUESTS_PER_MINUTE", "120")
	t.Setenv("ANSWERFLOW_PIPELINE_REQUEST_TIMEOUT", "30s")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 7333, cfg.Qdrant.Port)
	assert.Equal(t, 0.85, cfg.Pipeline.Gate.FaithfulnessThreshold)
	assert.Equal(t, 120, cfg.Limiter.RequestsPerMinute)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.RequestTimeout)
}

func TestValidationRejectsBadValues(t *testing.T) {
	t.Setenv("ANSWERFLOW_LOG_LEVEL", "verbose")
	_, err := NewLoader().Load()
	require.Error(t, err)

	t.Setenv("ANSWERFLOW_LOG_LEVEL", "info")
	t.Setenv("ANSWERFLOW_PIPELINE_GATE_FAITHFULNESS_THRESHOLD", "1.5")
	_, err = NewLoader().Load()
	require.Error(t, err)
}

func TestCustomValidator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(cfg *Config) error {
		if cfg.Qdrant.Collection == "passages" {
			return assert.AnError
		}
		return nil
	}).Load()
	require.Error(t, err)
}

func TestBuildLogger(t *testing.T) {
	cfg := Default()
	logger, err := cfg.BuildLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)

	cfg.Log.Format = "console"
	cfg.Log.Level = "debug"
	logger, err = cfg.BuildLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}
