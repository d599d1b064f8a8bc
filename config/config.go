// Package config loads the server configuration from defaults, an optional
// config file, a .env file and TRADEBOOK_ environment variables, in
// increasing order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"tradebook/domain/orderbook"
	"tradebook/service"
)

const EnvPrefix = "TRADEBOOK"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Home             string        `mapstructure:"home"`
	DataDir          string        `mapstructure:"data_dir"`
	GRPCAddr         string        `mapstructure:"grpc_addr"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	// SignatureWindow bounds the clock skew of signed gRPC requests.
	SignatureWindow time.Duration `mapstructure:"signature_window"`

	Log      LogConfig      `mapstructure:"log"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type JournalConfig struct {
	SegmentSize     int64         `mapstructure:"segment_size"`
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	SyncWrites      bool          `mapstructure:"sync_writes"`
}

// KafkaConfig selects the event publisher. An empty broker list disables
// publishing; events stay in the outbox.
type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	Client          string        `mapstructure:"client"`
	Group           string        `mapstructure:"group"`
	PublishInterval time.Duration `mapstructure:"publish_interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

type ExchangeConfig struct {
	Owner        string        `mapstructure:"owner"`
	FeeMul       uint64        `mapstructure:"fee_mul"`
	FeeDiv       uint64        `mapstructure:"fee_div"`
	SplitMul     uint64        `mapstructure:"split_mul"`
	SplitDiv     uint64        `mapstructure:"split_div"`
	StopMargin   uint64        `mapstructure:"stop_margin"`
	StakeToken   string        `mapstructure:"stake_token"`
	LockPeriod   time.Duration `mapstructure:"lock_period"`
	BurnToken    string        `mapstructure:"burn_token"`
	BurnInterval time.Duration `mapstructure:"burn_interval"`
}

const (
	ClientSarama  = "sarama"
	ClientKafkaGo = "kafka-go"
)

func Default() Config {
	opts := service.DefaultOptions()
	return Config{
		Home:             defaultHome(),
		GRPCAddr:         ":9090",
		MetricsAddr:      ":9100",
		SnapshotInterval: 5 * time.Minute,
		SignatureWindow:  5 * time.Minute,
		Log:              LogConfig{Level: "info", Format: "json"},
		Journal:          JournalConfig{SegmentSize: 64 << 20, SegmentDuration: 10 * time.Minute, SyncWrites: true},
		Kafka: KafkaConfig{
			Topic:           "tradebook.events",
			Client:          ClientSarama,
			Group:           "tradebook-tail",
			PublishInterval: 250 * time.Millisecond,
			MaxRetries:      10,
		},
		Exchange: ExchangeConfig{
			FeeMul:       opts.Exchange.FeeMul,
			FeeDiv:       opts.Exchange.FeeDiv,
			SplitMul:     opts.Exchange.SplitMul,
			SplitDiv:     opts.Exchange.SplitDiv,
			StopMargin:   opts.Exchange.StopMargin,
			StakeToken:   opts.StakeToken,
			LockPeriod:   opts.LockPeriod,
			BurnToken:    opts.BurnToken,
			BurnInterval: opts.BurnInterval,
		},
	}
}

func defaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".tradebook"
	}
	return filepath.Join(dir, ".tradebook")
}

// setDefaults registers every key so environment variables reach nested
// fields on Unmarshal.
func setDefaults(v *viper.Viper, c Config) {
	for k, val := range map[string]any{
		"home":                     c.Home,
		"data_dir":                 c.DataDir,
		"grpc_addr":                c.GRPCAddr,
		"metrics_addr":             c.MetricsAddr,
		"snapshot_interval":        c.SnapshotInterval,
		"signature_window":         c.SignatureWindow,
		"log.level":                c.Log.Level,
		"log.format":               c.Log.Format,
		"journal.segment_size":     c.Journal.SegmentSize,
		"journal.segment_duration": c.Journal.SegmentDuration,
		"journal.sync_writes":      c.Journal.SyncWrites,
		"kafka.brokers":            c.Kafka.Brokers,
		"kafka.topic":              c.Kafka.Topic,
		"kafka.client":             c.Kafka.Client,
		"kafka.group":              c.Kafka.Group,
		"kafka.publish_interval":   c.Kafka.PublishInterval,
		"kafka.max_retries":        c.Kafka.MaxRetries,
		"exchange.owner":           c.Exchange.Owner,
		"exchange.fee_mul":         c.Exchange.FeeMul,
		"exchange.fee_div":         c.Exchange.FeeDiv,
		"exchange.split_mul":       c.Exchange.SplitMul,
		"exchange.split_div":       c.Exchange.SplitDiv,
		"exchange.stop_margin":     c.Exchange.StopMargin,
		"exchange.stake_token":     c.Exchange.StakeToken,
		"exchange.lock_period":     c.Exchange.LockPeriod,
		"exchange.burn_token":      c.Exchange.BurnToken,
		"exchange.burn_interval":   c.Exchange.BurnInterval,
	} {
		v.SetDefault(k, val)
	}
}

// Load reads the configuration into v. file overrides the default
// <home>/config.toml lookup. Flags bound to v before Load win over
// everything else.
func Load(v *viper.Viper, file string) (Config, error) {
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	home := v.GetString("home")
	if err := loadDotEnv(filepath.Join(home, ".env")); err != nil {
		return Config{}, err
	}
	// .env may have moved home
	home = v.GetString("home")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", file)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(home)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, errors.Wrap(err, "read config")
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.Home, "data")
	}
	return c, c.Validate()
}

// loadDotEnv loads path into the process environment without overriding
// variables that are already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return errors.Wrapf(godotenv.Load(path), "load %s", path)
}

func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return errors.Wrapf(ErrInvalidConfig, "log format %q", c.Log.Format)
	}
	if c.Journal.SegmentSize <= 0 {
		return errors.Wrap(ErrInvalidConfig, "journal segment size must be positive")
	}
	if c.SnapshotInterval <= 0 {
		return errors.Wrap(ErrInvalidConfig, "snapshot interval must be positive")
	}
	if c.SignatureWindow <= 0 {
		return errors.Wrap(ErrInvalidConfig, "signature window must be positive")
	}
	if len(c.Kafka.Brokers) > 0 {
		switch c.Kafka.Client {
		case ClientSarama, ClientKafkaGo:
		default:
			return errors.Wrapf(ErrInvalidConfig, "kafka client %q", c.Kafka.Client)
		}
		if c.Kafka.Topic == "" {
			return errors.Wrap(ErrInvalidConfig, "kafka topic is empty")
		}
		if c.Kafka.PublishInterval <= 0 {
			return errors.Wrap(ErrInvalidConfig, "kafka publish interval must be positive")
		}
	}
	if c.Exchange.Owner != "" && !common.IsHexAddress(c.Exchange.Owner) {
		return errors.Wrapf(ErrInvalidConfig, "owner %q", c.Exchange.Owner)
	}
	if c.Exchange.StakeToken == "" || c.Exchange.BurnToken == "" {
		return errors.Wrap(ErrInvalidConfig, "stake and burn tokens are required")
	}
	if err := c.orderbook().Validate(); err != nil {
		return errors.Mark(err, ErrInvalidConfig)
	}
	return nil
}

func (c Config) orderbook() orderbook.Config {
	e := c.Exchange
	return orderbook.Config{FeeMul: e.FeeMul, FeeDiv: e.FeeDiv, SplitMul: e.SplitMul, SplitDiv: e.SplitDiv, StopMargin: e.StopMargin}
}

// ExchangeOptions turns the exchange section into genesis options.
func (c Config) ExchangeOptions() service.Options {
	opts := service.DefaultOptions()
	opts.Owner = common.HexToAddress(c.Exchange.Owner)
	opts.Exchange = c.orderbook()
	opts.StakeToken = c.Exchange.StakeToken
	opts.LockPeriod = c.Exchange.LockPeriod
	opts.BurnToken = c.Exchange.BurnToken
	opts.BurnInterval = c.Exchange.BurnInterval
	return opts
}

func (c Config) JournalDir() string  { return filepath.Join(c.DataDir, "journal") }
func (c Config) OutboxDir() string   { return filepath.Join(c.DataDir, "outbox") }
func (c Config) SnapshotDir() string { return filepath.Join(c.DataDir, "snapshot") }
