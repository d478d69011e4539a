package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	// Chain source.
	NodeSocket      string
	NetworkMagic    uint32
	StartSlot       uint64
	StartHash       string
	SlotTimeOffset  uint64
	BlockQueueSize  int
	RestartInterval time.Duration

	// Input resolution.
	Resolver      string
	Fallback      string
	FallbackURL   string
	APIKey        string
	MirrorDSN     string
	UtxoCacheSize int

	// Classification.
	Dexes []string

	// Persistence and publishing.
	DatabaseURL    string
	KafkaBrokers   []string
	KafkaTopic     string
	PublishEnabled bool

	// Operations.
	MetricsPort  int
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SWAPSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("network-magic", uint32(764824073))
	v.SetDefault("slot-time-offset", uint64(0))
	v.SetDefault("block-queue-size", 50)
	v.SetDefault("restart-interval", time.Duration(0))
	v.SetDefault("resolver", "hybrid")
	v.SetDefault("fallback", "blockfrost")
	v.SetDefault("utxo-cache-size", 100000)
	v.SetDefault("kafka-topic", "swapscope.prices")
	v.SetDefault("publish-enabled", false)
	v.SetDefault("metrics-port", 9091)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		NodeSocket:      v.GetString("node-socket"),
		NetworkMagic:    v.GetUint32("network-magic"),
		StartSlot:       v.GetUint64("start-slot"),
		StartHash:       v.GetString("start-hash"),
		SlotTimeOffset:  v.GetUint64("slot-time-offset"),
		BlockQueueSize:  v.GetInt("block-queue-size"),
		RestartInterval: v.GetDuration("restart-interval"),
		Resolver:        v.GetString("resolver"),
		Fallback:        v.GetString("fallback"),
		FallbackURL:     v.GetString("fallback-url"),
		APIKey:          v.GetString("api-key"),
		MirrorDSN:       v.GetString("mirror-dsn"),
		UtxoCacheSize:   v.GetInt("utxo-cache-size"),
		Dexes:           getStringSlice(v, "dex"),
		DatabaseURL:     v.GetString("database-url"),
		KafkaBrokers:    getStringSlice(v, "kafka-broker"),
		KafkaTopic:      v.GetString("kafka-topic"),
		PublishEnabled:  v.GetBool("publish-enabled"),
		MetricsPort:     v.GetInt("metrics-port"),
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		LogLevel:        v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the combinations a run cannot start without.
func (c Config) Validate() error {
	if c.NodeSocket == "" {
		return fmt.Errorf("node-socket is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database-url is required")
	}
	if c.UtxoCacheSize <= 0 {
		return fmt.Errorf("utxo-cache-size must be positive")
	}
	if c.BlockQueueSize <= 0 {
		return fmt.Errorf("block-queue-size must be positive")
	}
	switch c.Resolver {
	case "hybrid", "blockfrost", "koios", "dbmirror":
	default:
		return fmt.Errorf("unknown resolver %q", c.Resolver)
	}
	if c.Resolver == "hybrid" {
		switch c.Fallback {
		case "blockfrost", "koios", "dbmirror":
		default:
			return fmt.Errorf("unknown fallback %q", c.Fallback)
		}
	}
	if (c.Resolver == "dbmirror" || (c.Resolver == "hybrid" && c.Fallback == "dbmirror")) && c.MirrorDSN == "" {
		return fmt.Errorf("mirror-dsn is required for the dbmirror resolver")
	}
	if c.PublishEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka-broker is required when publishing is enabled")
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
