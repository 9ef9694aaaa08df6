package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/ats?sslmode=disable")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "false")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 2*time.Second, cfg.GetFacetQueryTimeout())
	assert.Equal(t, 500, cfg.GetMaxBatchSize())
	assert.Equal(t, "ats:intake:queue", cfg.GetIntakeQueueKey())
	assert.False(t, cfg.IsRedisEnabled())
}

func TestLoadMemoryDriverWithoutDatabase(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "MEMORY")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.UsesMemoryStore())
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"missing database url", "DATABASE_URL", ""},
		{"unknown driver", "STORE_DRIVER", "mongo"},
		{"missing jwt secret", "JWT_ACCESS_SECRET", ""},
		{"bad facet timeout", "FACET_QUERY_TIMEOUT", "soon"},
		{"zero batch size", "MAX_BATCH_SIZE", "0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tc.key, tc.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestWildcardOriginForcesAllowAll(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CORS_ORIGINS", "https://a.example, *")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.GetCORSAllowAll())
	assert.Equal(t, []string{"https://a.example", "*"}, cfg.GetCORSOrigins())
}
