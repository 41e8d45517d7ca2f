package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "30s"-style values in YAML, which yaml.v3 does not do
// for time.Duration on its own.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config carries runtime settings shared by the store and customer binaries.
// Values come from defaults, then an optional YAML file, then ETP_* env vars.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	WSPath      string `yaml:"ws_path"`
	ObserveAddr string `yaml:"observe_addr"`

	ApplicationName    string `yaml:"application_name"`
	ApplicationVersion string `yaml:"application_version"`

	// EncodingHeader is the handshake header that latches the session codec.
	EncodingHeader string `yaml:"encoding_header"`
	// Encoding is the value this peer asks for: "etp+binary" or "etp+json".
	Encoding string `yaml:"encoding"`

	MaxFrameSize   int      `yaml:"max_frame_size"`
	RequestTimeout Duration `yaml:"request_timeout"`
	CloseTimeout   Duration `yaml:"close_timeout"`
}

func Default() *Config {
	return &Config{
		ListenAddr:         ":9002",
		WSPath:             "/etp",
		ObserveAddr:        ":9090",
		ApplicationName:    "etp-go",
		ApplicationVersion: "0.1.0",
		EncodingHeader:     "etp-encoding",
		Encoding:           "etp+binary",
		MaxFrameSize:       16 * 1024 * 1024,
		RequestTimeout:     Duration(30 * time.Second),
		CloseTimeout:       Duration(5 * time.Second),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads path (ignored when empty or missing) and applies env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.ListenAddr = getEnv("ETP_LISTEN_ADDR", cfg.ListenAddr)
	cfg.WSPath = getEnv("ETP_WS_PATH", cfg.WSPath)
	cfg.ObserveAddr = getEnv("ETP_OBSERVE_ADDR", cfg.ObserveAddr)
	cfg.ApplicationName = getEnv("ETP_APP_NAME", cfg.ApplicationName)
	cfg.ApplicationVersion = getEnv("ETP_APP_VERSION", cfg.ApplicationVersion)
	cfg.Encoding = getEnv("ETP_ENCODING", cfg.Encoding)

	if v := os.Getenv("ETP_MAX_FRAME"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid ETP_MAX_FRAME: %q", v)
		}
		cfg.MaxFrameSize = n
	}
	if v := os.Getenv("ETP_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ETP_REQUEST_TIMEOUT: %q", v)
		}
		cfg.RequestTimeout = Duration(d)
	}
	return cfg, nil
}
