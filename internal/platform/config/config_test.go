package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "propledger/pkg/domain"
)

const (
	testAdmin = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	testOwner = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

func setGenesisEnv(t *testing.T) {
	t.Setenv("REGISTRY_ADMIN", testAdmin)
	t.Setenv("REGISTRY_OWNER", testOwner)
}

func TestLoadDefaults(t *testing.T) {
	setGenesisEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, DefaultJWTSigningKey, cfg.Auth.JWTSigningKey)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Kafka.Brokers)

	genesis, err := cfg.Genesis()
	require.NoError(t, err)
	assert.Equal(t, id.MustPrincipalID(testOwner), genesis.Principals.Owner)
	assert.Equal(t, uint8(70), genesis.Parameters.Author)
	assert.True(t, genesis.Parameters.MinimumReportPrice.IsZero())
}

func TestLoadTOMLWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[server]
addr = ":9090"

[kafka]
brokers = ["kafka-1:9092"]
topic = "from-file"

[outbox]
interval = "250ms"

[registry]
admin = "`+testAdmin+`"
owner = "`+testOwner+`"
dao_share_percentage = 33
author_share_percentage = 33
owner_share_percentage = 34
minimum_report_price_eth = "0.01"
verification_required = true
`), 0o600))
	t.Setenv("REGISTRY_CONFIG", path)
	t.Setenv("KAFKA_TOPIC", "from-env")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "from-env", cfg.Kafka.Topic)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Outbox.Interval)

	genesis, err := cfg.Genesis()
	require.NoError(t, err)
	assert.Equal(t, uint8(34), genesis.Parameters.Owner)
	assert.True(t, genesis.Parameters.VerificationRequired)
	assert.True(t, id.MustEther("0.01").Equal(genesis.Parameters.MinimumReportPrice))
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing admin", map[string]string{"REGISTRY_OWNER": testOwner}, "registry admin"},
		{"bad log level", map[string]string{"REGISTRY_ADMIN": testAdmin, "REGISTRY_OWNER": testOwner, "LOG_LEVEL": "loud"}, "unknown log level"},
		{"bad duration", map[string]string{"REGISTRY_ADMIN": testAdmin, "REGISTRY_OWNER": testOwner, "OUTBOX_INTERVAL": "soon"}, "OUTBOX_INTERVAL"},
		{"bad price", map[string]string{"REGISTRY_ADMIN": testAdmin, "REGISTRY_OWNER": testOwner, "REGISTRY_MIN_REPORT_PRICE_ETH": "-1"}, "minimum report price"},
		{"bad flag", map[string]string{"REGISTRY_ADMIN": testAdmin, "REGISTRY_OWNER": testOwner, "REGISTRY_VERIFICATION_REQUIRED": "maybe"}, "REGISTRY_VERIFICATION_REQUIRED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}
