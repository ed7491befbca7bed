package config

import (
	"os"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/pkg/errors"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Database  Database  `yaml:"database"`
	Redis     Redis     `yaml:"redis"`
	Memcached Memcached `yaml:"memcached"`
	Trace     Trace     `yaml:"trace"`
	Sync      Sync      `yaml:"sync"`
	Trust     Trust     `yaml:"trust"`
	Content   Content   `yaml:"content"`
	Peers     []Peer    `yaml:"peers"`
}

type Server struct {
	Bind    string `yaml:"bind"`
	FQDN    string `yaml:"fqdn"`
	BaseURL string `yaml:"base_url"`
}

type Database struct {
	Dsn string `yaml:"dsn"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Memcached struct {
	Addr string `yaml:"addr"`
}

type Trace struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type Sync struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	MaxRetryAttempts   int `yaml:"max_retry_attempts"`
	RequestTimeoutMs   int `yaml:"request_timeout_ms"`
	MaxConcurrentPeers int `yaml:"max_concurrent_peers"`
	PageLimit          int `yaml:"page_limit"`
}

func (s Sync) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s Sync) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMs) * time.Millisecond
}

// AnchorPolicyManual trusts certificates whose fingerprint an operator has
// listed; AnchorPolicyCAChain verifies certificate signatures against the
// configured anchor keys.
const (
	AnchorPolicyManual  = "manual"
	AnchorPolicyCAChain = "ca-chain"
)

type Trust struct {
	AnchorPolicy         string   `yaml:"anchor_policy"`
	ApprovedFingerprints []string `yaml:"approved_fingerprints"`
	Anchors              []Anchor `yaml:"anchors"`
}

type Anchor struct {
	Algorithm string `yaml:"algorithm"`
	PublicKey string `yaml:"public_key"`
}

type Content struct {
	LenientSniffing bool `yaml:"lenient_sniffing"`
}

type Peer struct {
	Identifier string `yaml:"identifier"`
	Endpoint   string `yaml:"endpoint"`
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to open config file")
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config file")
	}

	config.applyDefaults()

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Bind == "" {
		c.Server.Bind = ":8000"
	}
	if c.Trace.ServiceName == "" {
		c.Trace.ServiceName = "asocd"
	}
	if c.Trust.AnchorPolicy == "" {
		c.Trust.AnchorPolicy = AnchorPolicyManual
	}
	if c.Sync.IntervalSeconds <= 0 {
		c.Sync.IntervalSeconds = 60
	}
	if c.Sync.MaxRetryAttempts <= 0 {
		c.Sync.MaxRetryAttempts = 3
	}
	if c.Sync.RequestTimeoutMs <= 0 {
		c.Sync.RequestTimeoutMs = 5000
	}
	if c.Sync.MaxConcurrentPeers <= 0 {
		c.Sync.MaxConcurrentPeers = 4
	}
	if c.Sync.PageLimit <= 0 || c.Sync.PageLimit > 100 {
		c.Sync.PageLimit = 100
	}
}
