package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Collector  CollectorConfig  `koanf:"collector"`
	RouterData RouterDataConfig `koanf:"router_data"`
	Sources    SourcesConfig    `koanf:"sources"`
	Kafka      KafkaConfig      `koanf:"kafka"`
	Logging    LoggingConfig    `koanf:"logging"`
	Service    ServiceConfig    `koanf:"service"`
}

type CollectorConfig struct {
	Host                     string `koanf:"host"`
	Port                     int    `koanf:"port"`
	DelayAfterInitAndPeerUps int    `koanf:"delay_after_init_and_peer_ups"`
}

// Addr returns host:port for the collector session.
func (c CollectorConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RouterDataConfig struct {
	MasterDirectoryPath                string `koanf:"master_directory_path"`
	ProcessedDirectoryPath             string `koanf:"processed_directory_path"`
	IgnoreTimestampIntervalAbnormality bool   `koanf:"ignore_timestamp_interval_abnormality"`
	TimestampIntervalLimit             int    `koanf:"timestamp_interval_limit"`
	MaxQueueSize                       int    `koanf:"max_queue_size"`
	EmitPeerDown                       bool   `koanf:"emit_peer_down"`
	RetentionDays                      int    `koanf:"retention_days"`
}

type SourcesConfig struct {
	PollIntervalSeconds int `koanf:"poll_interval_seconds"`
	HTTPTimeoutSeconds  int `koanf:"http_timeout_seconds"`
}

type KafkaConfig struct {
	Enabled  bool       `koanf:"enabled"`
	Brokers  []string   `koanf:"brokers"`
	Topic    string     `koanf:"topic"`
	ClientID string     `koanf:"client_id"`
	TLS      TLSConfig  `koanf:"tls"`
	SASL     SASLConfig `koanf:"sasl"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

type LoggingConfig struct {
	Level     string `koanf:"level"`
	Directory string `koanf:"directory"`
}

type ServiceConfig struct {
	HTTPListen             string `koanf:"http_listen"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file first.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: MRT_REPLAY_COLLECTOR__HOST → collector.host
	if err := k.Load(env.Provider("MRT_REPLAY_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "MRT_REPLAY_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Collector: CollectorConfig{
			Port:                     5000,
			DelayAfterInitAndPeerUps: 5,
		},
		RouterData: RouterDataConfig{
			MasterDirectoryPath:    "data/master",
			ProcessedDirectoryPath: "data/processed",
			TimestampIntervalLimit: 20,
			MaxQueueSize:           10000,
			EmitPeerDown:           true,
		},
		Sources: SourcesConfig{
			PollIntervalSeconds: 120,
			HTTPTimeoutSeconds:  60,
		},
		Kafka: KafkaConfig{
			Topic:    "openbmp.mrt-replay.raw",
			ClientID: "mrt-replay",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Service: ServiceConfig{
			HTTPListen:             ":8080",
			ShutdownTimeoutSeconds: 15,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Collector.Host == "" {
		return fmt.Errorf("config: collector.host is required")
	}
	if c.Collector.Port <= 0 || c.Collector.Port > 65535 {
		return fmt.Errorf("config: collector.port must be 1-65535 (got %d)", c.Collector.Port)
	}
	if c.Collector.DelayAfterInitAndPeerUps < 0 {
		return fmt.Errorf("config: collector.delay_after_init_and_peer_ups must be >= 0 (got %d)", c.Collector.DelayAfterInitAndPeerUps)
	}
	if c.RouterData.MasterDirectoryPath == "" {
		return fmt.Errorf("config: router_data.master_directory_path is required")
	}
	if c.RouterData.ProcessedDirectoryPath == "" {
		return fmt.Errorf("config: router_data.processed_directory_path is required")
	}
	if c.RouterData.TimestampIntervalLimit <= 0 {
		return fmt.Errorf("config: router_data.timestamp_interval_limit must be > 0 (got %d)", c.RouterData.TimestampIntervalLimit)
	}
	if c.RouterData.MaxQueueSize <= 0 {
		return fmt.Errorf("config: router_data.max_queue_size must be > 0 (got %d)", c.RouterData.MaxQueueSize)
	}
	if c.RouterData.RetentionDays < 0 {
		return fmt.Errorf("config: router_data.retention_days must be >= 0 (got %d)", c.RouterData.RetentionDays)
	}
	if c.Sources.PollIntervalSeconds <= 0 {
		return fmt.Errorf("config: sources.poll_interval_seconds must be > 0 (got %d)", c.Sources.PollIntervalSeconds)
	}
	if c.Sources.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("config: sources.http_timeout_seconds must be > 0 (got %d)", c.Sources.HTTPTimeoutSeconds)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required when kafka.enabled")
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings. Returns nil if TLS is disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings. Returns nil if SASL is disabled.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
