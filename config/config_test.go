package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebook/domain/chain"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	opts := c.ExchangeOptions()
	assert.Equal(t, uint64(2), opts.Exchange.FeeMul)
	assert.Equal(t, uint64(1000), opts.Exchange.FeeDiv)
	assert.Equal(t, "TRADE", opts.StakeToken)
}

func TestLoadLayers(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte(`
grpc_addr = ":7000"

[kafka]
topic = "from-file"

[exchange]
stop_margin = 10
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".env"), []byte("TRADEBOOK_KAFKA_TOPIC=from-dotenv\n"), 0o600))

	t.Setenv("TRADEBOOK_HOME", home)
	t.Setenv("TRADEBOOK_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("TRADEBOOK_SNAPSHOT_INTERVAL", "30s")
	t.Setenv("TRADEBOOK_JOURNAL_SEGMENT_DURATION", "1m")
	t.Setenv("TRADEBOOK_SIGNATURE_WINDOW", "90s")
	t.Cleanup(func() { os.Unsetenv("TRADEBOOK_KAFKA_TOPIC") })

	c, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, ":7000", c.GRPCAddr)
	assert.Equal(t, uint64(10), c.Exchange.StopMargin)
	assert.Equal(t, "from-dotenv", c.Kafka.Topic)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, c.SnapshotInterval)
	assert.Equal(t, time.Minute, c.Journal.SegmentDuration)
	assert.Equal(t, 90*time.Second, c.SignatureWindow)
	assert.Equal(t, filepath.Join(home, "data"), c.DataDir)
	assert.Equal(t, filepath.Join(home, "data", "journal"), c.JournalDir())
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	owner := chain.Derive("owner").Hex()
	require.NoError(t, os.WriteFile(path, []byte("data_dir = \""+dir+"\"\n[exchange]\nowner = \""+owner+"\"\n"), 0o600))
	t.Setenv("TRADEBOOK_HOME", t.TempDir())

	c, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, dir, c.DataDir)
	assert.Equal(t, chain.Derive("owner"), c.ExchangeOptions().Owner)

	_, err = Load(viper.New(), filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"log level":     func(c *Config) { c.Log.Level = "loud" },
		"log format":    func(c *Config) { c.Log.Format = "xml" },
		"segment size":  func(c *Config) { c.Journal.SegmentSize = 0 },
		"snapshot":      func(c *Config) { c.SnapshotInterval = 0 },
		"signatures":    func(c *Config) { c.SignatureWindow = 0 },
		"kafka client":  func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.Client = "carrier-pigeon" },
		"owner":         func(c *Config) { c.Exchange.Owner = "bob" },
		"fee above one": func(c *Config) { c.Exchange.FeeMul = 2000 },
		"stop margin":   func(c *Config) { c.Exchange.StopMargin = 101 },
		"stake token":   func(c *Config) { c.Exchange.StakeToken = "" },
	} {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			assert.True(t, errors.Is(c.Validate(), ErrInvalidConfig))
		})
	}
}
