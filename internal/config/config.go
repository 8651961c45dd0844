// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig for the host agent
type AgentConfig struct {
	DetectorURL     string        `yaml:"detector_url"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
	Hostname        string        `yaml:"hostname"`
	TLSSkipVerify   bool          `yaml:"tls_skip_verify"`
	SimulateTraffic bool          `yaml:"simulate_traffic"`
	APIKey          string        `yaml:"-"` // from env only
}

// AlgorithmConfig toggles detection passes
type AlgorithmConfig struct {
	Statistical bool   `yaml:"statistical"`
	Threshold   bool   `yaml:"threshold"`
	ML          bool   `yaml:"ml"`
	MLModelPath string `yaml:"ml_model_path"` // unused by the reference engine
}

// DetectionConfig for the engine and its loops
type DetectionConfig struct {
	WindowSize     int             `yaml:"window_size"`
	ThresholdScore float64         `yaml:"threshold_score"`
	SampleInterval time.Duration   `yaml:"sample_interval"`
	Algorithms     AlgorithmConfig `yaml:"algorithms"`
}

// NotifyConfig for the operator alert channel
type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	To       string `yaml:"to"`
	Password string `yaml:"-"` // from env only
}

// BlockConfig for the network-block channel
type BlockConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Platform    string `yaml:"platform"` // linux, windows, macos, generic-script (alias: script)
	BlockScript string `yaml:"block_script"`
}

// AuditConfig for the audit log channel
type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Type     string `yaml:"type"` // elasticsearch, splunk, custom
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"-"` // from env only
}

// ResponseConfig groups the response channels
type ResponseConfig struct {
	Workers int          `yaml:"workers"`
	Notify  NotifyConfig `yaml:"notify"`
	Block   BlockConfig  `yaml:"block"`
	Audit   AuditConfig  `yaml:"audit"`
}

// DetectorConfig for the central detector
type DetectorConfig struct {
	ListenAddr      string          `yaml:"listen_addr"`
	DBPath          string          `yaml:"db_path"`
	MaxPayloadBytes int64           `yaml:"max_payload_bytes"`
	TLSCert         string          `yaml:"tls_cert"`
	TLSKey          string          `yaml:"tls_key"`
	Detection       DetectionConfig `yaml:"detection"`
	Response        ResponseConfig  `yaml:"response"`
	APIKey          string          `yaml:"-"` // agent auth, from env
}

// LoadAgentConfig loads agent config from YAML file with env overrides
func LoadAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Env overrides
	if key := os.Getenv("AUSPEX_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if hostname := os.Getenv("AUSPEX_HOSTNAME"); hostname != "" {
		cfg.Hostname = hostname
	}

	// Default hostname to os.Hostname if not set
	if cfg.Hostname == "" {
		cfg.Hostname, _ = os.Hostname()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}

	return &cfg, nil
}

// LoadDetectorConfig loads detector config from YAML file with env overrides
func LoadDetectorConfig(path string) (*DetectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &DetectorConfig{
		MaxPayloadBytes: 1 << 20,
		Detection: DetectionConfig{
			WindowSize:     100,
			ThresholdScore: 0.7,
			SampleInterval: 5 * time.Second,
			Algorithms: AlgorithmConfig{
				Statistical: true,
				Threshold:   true,
			},
		},
		Response: ResponseConfig{
			Workers: 3,
			Notify:  NotifyConfig{SMTPPort: 587},
			Block:   BlockConfig{Platform: "linux"},
		},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Env overrides
	if key := os.Getenv("AUSPEX_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if pw := os.Getenv("AUSPEX_SMTP_PASSWORD"); pw != "" {
		cfg.Response.Notify.Password = pw
	}
	if key := os.Getenv("AUSPEX_AUDIT_API_KEY"); key != "" {
		cfg.Response.Audit.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks detector config invariants.
func (c *DetectorConfig) Validate() error {
	if c.Detection.WindowSize < 1 {
		return fmt.Errorf("detection.window_size must be >= 1, got %d", c.Detection.WindowSize)
	}
	if c.Detection.ThresholdScore < 0 || c.Detection.ThresholdScore > 1 {
		return fmt.Errorf("detection.threshold_score must be in [0,1], got %g", c.Detection.ThresholdScore)
	}
	if c.Detection.SampleInterval <= 0 {
		return fmt.Errorf("detection.sample_interval must be positive, got %s", c.Detection.SampleInterval)
	}
	if c.Response.Workers < 1 {
		return fmt.Errorf("response.workers must be >= 1, got %d", c.Response.Workers)
	}
	switch c.Response.Block.Platform {
	case "linux", "windows", "macos", "generic-script", "script":
	default:
		return fmt.Errorf("response.block.platform must be one of linux, windows, macos, generic-script; got %q", c.Response.Block.Platform)
	}
	return nil
}
