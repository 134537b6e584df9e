package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
	"pupilform-server-go/models"
)

// Config holds the server settings. Zero values are replaced by the
// defaults below, so a missing config file is not an error.
type Config struct {
	Addr       string      `yaml:"addr"`        // listen address of the gin server
	BaseURL    string      `yaml:"base_url"`    // where the page client finds core/pupils; derived from Addr if empty
	SchoolYear int         `yaml:"school_year"` // year used by the data-entry page
	Timeout    int         `yaml:"timeout_ms"`  // client timeout, 0 = none
	Seed       bool        `yaml:"seed"`        // add test data to an empty store
	Redis      RedisConfig `yaml:"redis"`
	// Fields is the ordered list of (field key, localized label). It
	// determines the "fields" part of every dataset.
	Fields []models.Pair `yaml:"fields"`
}

// RedisConfig holds the connection settings of the pupil store
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DefaultFields are the pupil fields with their German labels
var DefaultFields = []models.Pair{
	{"PID", "ID"},
	{"CLASS", "Klasse"},
	{"PSORT", "Sortiername"},
	{"FIRSTNAME", "Rufname"},
	{"LASTNAME", "Name"},
	{"STREAM", "Maßstab"},
	{"FIRSTNAMES", "Vornamen"},
	{"DOB_D", "Geburtsdatum"},
	{"POB", "Geburtsort"},
	{"SEX", "Geschlecht"},
	{"HOME", "Ort"},
	{"ENTRY_D", "Eintrittsdatum"},
	{"EXIT_D", "Schulaustritt"},
	{"QUALI_D", "Eintritt-SekII"},
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Addr:       ":8080",
		SchoolYear: 2016,
		Timeout:    10000,
		Seed:       true,
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
			DB:   8,
		},
		Fields: DefaultFields,
	}
}

// Load reads the YAML file at path (if it exists) over the defaults and
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Printf("Config file %s not found, using defaults", path)
		case err != nil:
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultFields
	}
	if cfg.SchoolYear <= 0 {
		return cfg, fmt.Errorf("invalid school year %d", cfg.SchoolYear)
	}
	if cfg.BaseURL == "" {
		u, err := LocalURL(cfg.Addr)
		if err != nil {
			return cfg, err
		}
		cfg.BaseURL = u
	}
	return cfg, nil
}

// LocalURL returns the loopback URL of the server listening on addr.
// Wildcard and empty hosts map to 127.0.0.1.
func LocalURL(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if port == "" {
		return "", fmt.Errorf("invalid listen address %q: no port", addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/", nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PUPILS_ADDR"); v != "" {
		c.Addr = v
	}
	if v := getenv("PUPILS_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		c.Redis.DB = n
	}
	if v := getenv("PUPILS_SCHOOLYEAR"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PUPILS_SCHOOLYEAR %q: %w", v, err)
		}
		c.SchoolYear = n
	}
	return nil
}
