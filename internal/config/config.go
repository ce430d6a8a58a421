package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port  int    `yaml:"port" split_words:"true"`
		DBURL string `yaml:"db_url" envconfig:"DB_URL"`
	} `yaml:"server"`

	Auth struct {
		PK string `yaml:"pk" split_words:"true"`
	} `yaml:"auth"`

	Redis struct {
		Addr     string `yaml:"addr" split_words:"true"`
		Password string `yaml:"password" split_words:"true"`
		DB       int    `yaml:"db" split_words:"true"`
	} `yaml:"redis"`

	Stream struct {
		KeepAlive time.Duration `yaml:"keep_alive" split_words:"true"`
		Capacity  int           `yaml:"capacity" split_words:"true"`
	} `yaml:"stream"`

	Listener struct {
		MinBackoff time.Duration `yaml:"min_backoff" split_words:"true"`
		MaxBackoff time.Duration `yaml:"max_backoff" split_words:"true"`
	} `yaml:"listener"`

	DB struct {
		Migrate bool `yaml:"migrate" split_words:"true"`
	} `yaml:"db"`

	Log struct {
		Development bool `yaml:"development" split_words:"true"`
	} `yaml:"log"`
}

// searchPaths are tried in order when no explicit path is given.
var searchPaths = []string{"/etc/config/notify.yml", "./notify.yml"}

// Load reads the YAML config from path, or from $NOTIFY_CONFIG, or from the
// first of searchPaths that exists. NOTIFY_<SECTION>_<FIELD> environment
// variables override file values, e.g. NOTIFY_SERVER_DB_URL or
// NOTIFY_REDIS_ADDR.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("NOTIFY_CONFIG")
	}
	if path == "" {
		for _, p := range searchPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process("notify", &c); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 6687
	}
	if c.Stream.KeepAlive <= 0 {
		c.Stream.KeepAlive = time.Second
	}
	if c.Stream.Capacity <= 0 {
		c.Stream.Capacity = 256
	}
	if c.Listener.MinBackoff <= 0 {
		c.Listener.MinBackoff = 500 * time.Millisecond
	}
	if c.Listener.MaxBackoff <= 0 {
		c.Listener.MaxBackoff = 30 * time.Second
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Server.DBURL == "" {
		errs = append(errs, errors.New("server.db_url is required"))
	}
	if c.Auth.PK == "" {
		errs = append(errs, errors.New("auth.pk is required"))
	}
	if c.Listener.MaxBackoff < c.Listener.MinBackoff {
		errs = append(errs, errors.New("listener.max_backoff must not be below listener.min_backoff"))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
