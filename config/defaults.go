package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/pipeline"
	"github.com/BaSui01/answerflow/store"
)

// Default 返回完整默认配置。
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Pipeline: pipeline.DefaultConfig(),
		Qdrant: store.QdrantConfig{
			Host:       "localhost",
			Port:       6333,
			Collection: "passages",
		},
		Neo4j: store.Neo4jConfig{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
			Database: "neo4j",
		},
		Redis:   store.DefaultRedisConversationConfig(),
		Limiter: llm.DefaultLimiterConfig(),
		Retry:   *llm.DefaultRetryPolicy(),
		Pool:    llm.DefaultPoolConfig(),
	}
}

// validate 是内置验证器：拦截明显配错的数值。
func validate(cfg *Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", cfg.Log.Level)
	}
	if cfg.Pipeline.Gate.FaithfulnessThreshold < 0 || cfg.Pipeline.Gate.FaithfulnessThreshold > 1 {
		return fmt.Errorf("faithfulness threshold %v out of [0,1]", cfg.Pipeline.Gate.FaithfulnessThreshold)
	}
	if cfg.Pipeline.Fusion.MMRLambda < 0 || cfg.Pipeline.Fusion.MMRLambda > 1 {
		return fmt.Errorf("mmr lambda %v out of [0,1]", cfg.Pipeline.Fusion.MMRLambda)
	}
	if cfg.Limiter.RequestsPerMinute < 0 || cfg.Limiter.TokensPerMinute < 0 {
		return fmt.Errorf("limiter rates must be non-negative")
	}
	return nil
}

// BuildLogger 按日志配置构造 zap.Logger。
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var zc zap.Config
	if c.Log.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
