package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	t.Setenv("WEBHOOK_URL", "http://hooks.local/balance")
	t.Setenv("WEBHOOK_SECRET", "shared")

	cfg, err := Parse([]byte(`
postgres:
  dsn: "host=db user=ledger"
ledger:
  overdraft_types: [" Clawback "]
`))
	require.NoError(t, err)

	assert.Equal(t, "host=db user=ledger password=s3cret", cfg.Postgres.DSN)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Ledger.TxTimeout)
	assert.Equal(t, []string{"clawback"}, cfg.Ledger.OverdraftTypes)
	assert.Equal(t, "http://hooks.local/balance", cfg.Webhook.URL)
	assert.Equal(t, "shared", cfg.Webhook.Secret)
	assert.Equal(t, "X-Webhook-Secret", cfg.Webhook.SecretHeader)
	assert.Equal(t, 100, cfg.RateLimit.Burst)
}

func TestParse_RequiresDSN(t *testing.T) {
	_, err := Parse([]byte("server:\n  port: 9000\n"))
	assert.Error(t, err)
}

func TestParse_WebhookNeedsSecret(t *testing.T) {
	_, err := Parse([]byte(`
postgres:
  dsn: "host=db"
webhook:
  url: "http://hooks.local"
`))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}
