package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("EVENTS_BACKEND", "")
	t.Setenv("WORKFLOW_REQUIRE_ASSIGNMENT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Events.Backend)
	assert.Equal(t, "breakdowns:changes", cfg.Events.Channel)
	assert.True(t, cfg.Workflow.RequireAssignment)
	assert.True(t, cfg.Postgres.UseMemoryStore())
	assert.Equal(t, "reporter", cfg.Auth.DefaultSignupRole)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EVENTS_BACKEND", "Redis")
	t.Setenv("WORKFLOW_REQUIRE_ASSIGNMENT", "false")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/breakdowns")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("NOTIFY_QUEUE_SIZE", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Events.Backend)
	assert.False(t, cfg.Workflow.RequireAssignment)
	assert.False(t, cfg.Postgres.UseMemoryStore())
	assert.True(t, cfg.Notification.SMTP.Enabled())
	assert.Equal(t, 7, cfg.Notification.QueueSize)
}

func TestLoad_RejectsUnknownEventsBackend(t *testing.T) {
	t.Setenv("EVENTS_BACKEND", "kafka")

	_, err := Load()
	require.Error(t, err)
}
