package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/mpingest/pkg/mpingest/internalerr"
)

// EnvConfigFile names the environment variable consulted when no
// configuration file is given on the command line.
const EnvConfigFile = "MP_INGESTER_CONFIG"

const (
	DefaultHealthTopicsURL = "https://medlineplus.gov/healthtopics.html"
	DefaultXMLFilesURL     = "https://medlineplus.gov/xml.html"
	DefaultSQLPath         = "medlineplus.db"
	DefaultTimeout         = 30 * time.Second
	DefaultMaxRetries      = 3
	DefaultConcurrency     = 4
	DefaultUserAgent       = "mp-ingester/1.0"
	DefaultLogLevel        = "info"
)

// Config is the service configuration file.
type Config struct {
	SQL      SQL      `yaml:"sql"`
	Medline  Medline  `yaml:"medline"`
	HTTP     HTTP     `yaml:"http"`
	Taxonomy Taxonomy `yaml:"taxonomy"`
	Log      Log      `yaml:"log"`
	Metrics  Metrics  `yaml:"metrics"`
}

type SQL struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

type Medline struct {
	HealthTopicsURL string `yaml:"health_topics_url"`
	XMLFilesURL     string `yaml:"xml_files_url"`
}

type HTTP struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	Concurrency int           `yaml:"concurrency"`
	UserAgent   string        `yaml:"user_agent"`
}

// Taxonomy points at a snapshot file that replaces scraping when set.
type Taxonomy struct {
	Path string `yaml:"path"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Metrics struct {
	// Textfile, when set, receives the run's metrics in Prometheus text format.
	Textfile string `yaml:"textfile"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{HTTP: HTTP{MaxRetries: DefaultMaxRetries, Concurrency: DefaultConcurrency}}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills settings left empty. Counts are not touched here:
// they are seeded by Default before decoding, so an explicit 0 survives.
func (c *Config) applyDefaults() {
	if c.SQL.Path == "" {
		c.SQL.Path = DefaultSQLPath
	}
	if c.Medline.HealthTopicsURL == "" {
		c.Medline.HealthTopicsURL = DefaultHealthTopicsURL
	}
	if c.Medline.XMLFilesURL == "" {
		c.Medline.XMLFilesURL = DefaultXMLFilesURL
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = DefaultTimeout
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = DefaultUserAgent
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate reports every invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error

	for name, raw := range map[string]string{
		"medline.health_topics_url": c.Medline.HealthTopicsURL,
		"medline.xml_files_url":     c.Medline.XMLFilesURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: %q is not an absolute URL", name, raw))
		}
	}
	if c.SQL.Path == "" {
		errs = append(errs, errors.New("sql.path is required"))
	}
	if c.HTTP.Timeout < 0 {
		errs = append(errs, fmt.Errorf("http.timeout must not be negative, got %s", c.HTTP.Timeout))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("http.max_retries must not be negative, got %d", c.HTTP.MaxRetries))
	}
	if c.HTTP.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("http.concurrency must be at least 1, got %d", c.HTTP.Concurrency))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", internalerr.ErrInvalidConfig, errors.Join(errs...))
}

// Load reads a YAML configuration file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", internalerr.ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads the configuration named by path, falling back to the
// MP_INGESTER_CONFIG environment variable. With neither set it returns
// Default() rather than failing.
func Resolve(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
