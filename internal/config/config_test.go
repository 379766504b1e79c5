package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "officeflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "single_candidate", cfg.Workflow.AssignmentPolicy)
	assert.True(t, cfg.Workflow.SyncTicketStatus)
	assert.Equal(t, "officeflow", cfg.Metrics.Namespace)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  dsn: postgres://flow:secret@db:5432/flow?sslmode=disable
  max_open_conns: 25
redis:
  enabled: true
  addr: redis:6379
  lock_ttl: 10s
workflow:
  assignment_policy: manual
  strict_clock: true
`)
	l := NewLoader(path)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, "manual", cfg.Workflow.AssignmentPolicy)
	assert.True(t, cfg.Workflow.StrictClock)
	assert.Same(t, cfg, l.Current())
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: mysql\n  dsn: flow@tcp(db)/flow?parseTime=true\n")
	t.Setenv("OFFICEFLOW_DATABASE_DRIVER", "postgres")
	t.Setenv("OFFICEFLOW_LOGGING_FORMAT", "json")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"driver", "database:\n  driver: oracle\n", "database.driver"},
		{"format", "logging:\n  format: xml\n", "logging.format"},
		{"policy", "workflow:\n  assignment_policy: round_robin\n", "workflow.assignment_policy"},
		{"redis addr", "redis:\n  enabled: true\n  addr: \"\"\n", "redis.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(writeConfig(t, tt.body)).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	assert.Error(t, err)
}
