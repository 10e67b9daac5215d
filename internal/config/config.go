package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"corsOrigins"`
	} `yaml:"server"`

	Auth struct {
		// client label -> API key; empty disables auth
		APIKeys map[string]string `yaml:"apiKeys"`
	} `yaml:"auth"`

	RateLimit struct {
		Burst     int `yaml:"burst"`
		PerMinute int `yaml:"perMinute"`
	} `yaml:"rateLimit"`

	Storage struct {
		// sqlite (default), postgres, or memory
		Driver    string `yaml:"driver"`
		Path      string `yaml:"path"`
		RecordCap int    `yaml:"recordCap"`

		Postgres struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Name     string `yaml:"name"`
			SSLMode  string `yaml:"sslMode"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Gateway struct {
		APIKey         string `yaml:"apiKey"`
		Model          string `yaml:"model"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
	} `yaml:"gateway"`

	Sync struct {
		MaxAttempts int `yaml:"maxAttempts"`
		BaseDelayMS int `yaml:"baseDelayMS"`
		DrainFanout int `yaml:"drainFanout"`
	} `yaml:"sync"`

	ResponseCache struct {
		MaxEntries int `yaml:"maxEntries"`
		TTLMinutes int `yaml:"ttlMinutes"`
	} `yaml:"responseCache"`

	Assets struct {
		Enabled bool   `yaml:"enabled"`
		Root    string `yaml:"root"`
		Version string `yaml:"version"`

		Minio struct {
			Endpoint   string `yaml:"endpoint"`
			AccessKey  string `yaml:"accessKey"`
			SecretKey  string `yaml:"secretKey"`
			BucketName string `yaml:"bucketName"`
			Region     string `yaml:"region"`
			UseSSL     bool   `yaml:"useSSL"`
		} `yaml:"minio"`
	} `yaml:"assets"`

	Connectivity struct {
		ProbeURL             string `yaml:"probeURL"`
		ProbeIntervalSeconds int    `yaml:"probeIntervalSeconds"`
		AssumeOnline         bool   `yaml:"assumeOnline"`
	} `yaml:"connectivity"`
}

// Load reads the config file and applies env fallbacks for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Gateway.APIKey == "" {
		cfg.Gateway.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "labsync.db"
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.RateLimit.PerMinute == 0 {
		c.RateLimit.PerMinute = 10
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 30
	}
	if c.Assets.Root == "" {
		c.Assets.Root = "asset-cache"
	}
	if c.Connectivity.ProbeIntervalSeconds == 0 {
		c.Connectivity.ProbeIntervalSeconds = 30
	}
}

// GatewayTimeout returns the per-attempt timeout as a duration.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// BaseDelay returns the first backoff delay as a duration.
func (c *Config) BaseDelay() time.Duration {
	if c.Sync.BaseDelayMS <= 0 {
		return time.Second
	}
	return time.Duration(c.Sync.BaseDelayMS) * time.Millisecond
}

// PostgresDSN builds the DSN for the postgres queue backend.
func (c *Config) PostgresDSN() string {
	p := c.Storage.Postgres
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Name, sslMode)
}
