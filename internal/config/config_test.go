package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoad(t *testing.T) {
	t.Run("Default configuration", func(t *testing.T) {
		os.Unsetenv("CONFIG_PATH")

		cfg, err := Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 8080, cfg.Service.Port)
		assert.Equal(t, 8081, cfg.Service.HealthPort)
		assert.Equal(t, 0.6, cfg.Retrieval.SimilarityThreshold)
		assert.Equal(t, 50, cfg.Retrieval.MaxChunks)
		assert.Equal(t, 10, cfg.Retrieval.RRFK)
		assert.Equal(t, 3, cfg.Retrieval.MinResultsThreshold)
		assert.True(t, cfg.Retrieval.EnableFallback)
		assert.True(t, cfg.Retrieval.EnableDensityCalc)
		assert.Equal(t, 15*time.Second, cfg.Insights.Timeout)
		assert.Equal(t, 24*time.Hour, cfg.Insights.CacheTTL)
		assert.Equal(t, 16, cfg.Insights.MaxContextChunks)
		assert.Equal(t, 6, cfg.Insights.SummaryChunksPerDoc)
		assert.Equal(t, 4, cfg.Insights.AnswerChunksPerDoc)
		assert.Equal(t, 5*time.Second, cfg.Embeddings.Timeout)
	})

	t.Run("Configuration file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "lantern.yaml")
		content := `
service:
  port: 9090
retrieval:
  similarity_threshold: 0.75
  rrf_k: 60
insights:
  timeout: 20s
auth:
  enabled: false
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		os.Setenv("CONFIG_PATH", path)
		defer os.Unsetenv("CONFIG_PATH")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Service.Port)
		assert.Equal(t, 0.75, cfg.Retrieval.SimilarityThreshold)
		assert.Equal(t, 60, cfg.Retrieval.RRFK)
		assert.Equal(t, 20*time.Second, cfg.Insights.Timeout)
		// Values absent from the file keep their defaults
		assert.Equal(t, 50, cfg.Retrieval.MaxChunks)
		assert.Equal(t, 8081, cfg.Service.HealthPort)
	})

	t.Run("Missing explicit config file", func(t *testing.T) {
		os.Setenv("CONFIG_PATH", "/nonexistent/lantern.yaml")
		defer os.Unsetenv("CONFIG_PATH")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("Environment variable override", func(t *testing.T) {
		os.Unsetenv("CONFIG_PATH")
		os.Setenv("PORT", "7070")
		os.Setenv("DATABASE_URL", "postgres://u:p@dbhost:5432/lantern")
		os.Setenv("REDIS_URL", "redis://cachehost:6379/1")
		os.Setenv("LLM_API_KEY", "sk-test")
		os.Setenv("GATEWAY_SKIP_AUTH", "true")
		defer func() {
			os.Unsetenv("PORT")
			os.Unsetenv("DATABASE_URL")
			os.Unsetenv("REDIS_URL")
			os.Unsetenv("LLM_API_KEY")
			os.Unsetenv("GATEWAY_SKIP_AUTH")
		}()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 7070, cfg.Service.Port)
		assert.Equal(t, "postgres://u:p@dbhost:5432/lantern", cfg.Database.URL)
		assert.Equal(t, "redis://cachehost:6379/1", cfg.Redis.URL)
		assert.Equal(t, "sk-test", cfg.LLM.APIKey)
		assert.True(t, cfg.Auth.SkipAuth)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.SkipAuth = true
		return cfg
	}

	t.Run("Valid configuration", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("Similarity threshold out of range", func(t *testing.T) {
		cfg := valid()
		cfg.Retrieval.SimilarityThreshold = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("RRF constant below one", func(t *testing.T) {
		cfg := valid()
		cfg.Retrieval.RRFK = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("Invalid port", func(t *testing.T) {
		cfg := valid()
		cfg.Service.Port = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("Negative min results threshold", func(t *testing.T) {
		cfg := valid()
		cfg.Retrieval.MinResultsThreshold = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("Short JWT secret with auth enabled", func(t *testing.T) {
		cfg := valid()
		cfg.Auth.SkipAuth = false
		cfg.Auth.JWTSecret = "too-short"
		assert.Error(t, cfg.Validate())
	})

	t.Run("Zero insight timeout", func(t *testing.T) {
		cfg := valid()
		cfg.Insights.Timeout = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestConnectionString(t *testing.T) {
	t.Run("Discrete fields", func(t *testing.T) {
		dc := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			Database: "testdb",
			SSLMode:  "disable",
		}

		connStr := dc.ConnectionString()
		require.NotEmpty(t, connStr)
		assert.Contains(t, connStr, "localhost")
		assert.Contains(t, connStr, "5432")
		assert.Contains(t, connStr, "testuser")
		assert.Contains(t, connStr, "testdb")
	})

	t.Run("URL takes precedence", func(t *testing.T) {
		dc := DatabaseConfig{
			URL:  "postgres://u:p@elsewhere:5433/other",
			Host: "localhost",
		}
		assert.Equal(t, "postgres://u:p@elsewhere:5433/other", dc.ConnectionString())
	})
}

func TestTuningWatcher(t *testing.T) {
	base := Default().Retrieval
	logger := zaptest.NewLogger(t)

	waitForThreshold := func(t *testing.T, tw *TuningWatcher, want float64) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if tw.Snapshot().SimilarityThreshold == want {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		t.Fatalf("Snapshot similarity_threshold never reached %v, got %v",
			want, tw.Snapshot().SimilarityThreshold)
	}

	t.Run("Applies file updates", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tuning.yaml")
		require.NoError(t, os.WriteFile(path, []byte("similarity_threshold: 0.7\n"), 0644))

		tw, err := NewTuningWatcher(path, base, logger)
		require.NoError(t, err)
		require.NoError(t, tw.Start())
		defer tw.Stop()

		// Initial load picks up the existing file
		waitForThreshold(t, tw, 0.7)
		assert.Equal(t, base.MaxChunks, tw.Snapshot().MaxChunks)

		// Rewrite with new values
		require.NoError(t, os.WriteFile(path, []byte("similarity_threshold: 0.45\nmax_chunks: 20\n"), 0644))
		waitForThreshold(t, tw, 0.45)
		assert.Equal(t, 20, tw.Snapshot().MaxChunks)
	})

	t.Run("Rejects invalid updates", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tuning.yaml")
		require.NoError(t, os.WriteFile(path, []byte("similarity_threshold: 0.8\n"), 0644))

		tw, err := NewTuningWatcher(path, base, logger)
		require.NoError(t, err)
		require.NoError(t, tw.Start())
		defer tw.Stop()

		waitForThreshold(t, tw, 0.8)

		// Out-of-range value must not displace the last good snapshot
		require.NoError(t, os.WriteFile(path, []byte("similarity_threshold: 5.0\n"), 0644))
		time.Sleep(300 * time.Millisecond)
		assert.Equal(t, 0.8, tw.Snapshot().SimilarityThreshold)
	})

	t.Run("Missing file keeps base", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tuning.yaml")

		tw, err := NewTuningWatcher(path, base, logger)
		require.NoError(t, err)
		require.NoError(t, tw.Start())
		defer tw.Stop()

		assert.Equal(t, base, tw.Snapshot())
	})
}
