// Package config assembles the runtime configuration from the process
// environment (an optional .env file is loaded first) plus an optional
// YAML settings file for the geographic corpora.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	GeocoderNominatim = "nominatim"
	GeocoderOpenCage  = "opencage"
)

type Config struct {
	// Entrypoint is the OParl system root of the service to import from.
	Entrypoint string
	// TargetBodyURL selects the body when the system publishes several.
	// Empty means the first body of the list.
	TargetBodyURL string
	// Mirror swaps the entrypoint for a community mirror URL when set.
	Mirror string

	IgnoreModified    bool
	DownloadFiles     bool
	ForceSinglethread bool
	MaxWorkers        int
	AllowShrinkage    bool

	// FallbackCity completes geocoder queries for addresses that name no
	// city. Defaults to the imported body's short name.
	FallbackCity string
	SearchSuffix string
	Language     string

	Database Database
	Storage  Storage
	Search   Search
	Geocoder Geocoder

	// CityAffixes are administrative prefixes stripped off body names.
	CityAffixes []string
}

type Database struct {
	DSN string
}

type Storage struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
}

type Search struct {
	Addresses []string
	Username  string
	Password  string
	Prefix    string
}

type Geocoder struct {
	Provider     string
	NominatimURL string
	OpenCageKey  string
	UserAgent    string
	OverpassURL  string
}

// settingsFile is the YAML side channel for list-valued options that are
// unwieldy in the environment.
type settingsFile struct {
	CityAffixes  []string `yaml:"city_affixes"`
	FallbackCity string   `yaml:"fallback_city"`
	SearchSuffix string   `yaml:"search_suffix"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Entrypoint:        strings.TrimSpace(os.Getenv("OPARL_ENTRYPOINT")),
		TargetBodyURL:     strings.TrimSpace(os.Getenv("OPARL_BODY")),
		Mirror:            strings.TrimSpace(os.Getenv("OPARL_MIRROR")),
		IgnoreModified:    envBool("IGNORE_MODIFIED", false),
		DownloadFiles:     envBool("DOWNLOAD_FILES", true),
		ForceSinglethread: envBool("FORCE_SINGLETHREAD", false),
		MaxWorkers:        envInt("MAX_WORKERS", runtime.NumCPU()),
		AllowShrinkage:    envBool("ALLOW_SHRINKAGE", false),
		FallbackCity:      strings.TrimSpace(os.Getenv("FALLBACK_CITY")),
		SearchSuffix:      firstNonEmpty(strings.TrimSpace(os.Getenv("SEARCH_SUFFIX")), "Deutschland"),
		Language:          firstNonEmpty(strings.TrimSpace(os.Getenv("LANGUAGE")), "german"),
		Database: Database{
			DSN: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		},
		Storage: Storage{
			Endpoint:  firstNonEmpty(strings.TrimSpace(os.Getenv("MINIO_ENDPOINT")), "localhost:9000"),
			AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
			SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
			UseSSL:    envBool("MINIO_USE_SSL", false),
			Prefix:    strings.TrimSpace(os.Getenv("MINIO_PREFIX")),
		},
		Search: Search{
			Addresses: splitList(firstNonEmpty(strings.TrimSpace(os.Getenv("ELASTICSEARCH_URL")), "http://localhost:9200")),
			Username:  strings.TrimSpace(os.Getenv("ELASTICSEARCH_USERNAME")),
			Password:  strings.TrimSpace(os.Getenv("ELASTICSEARCH_PASSWORD")),
			Prefix:    firstNonEmpty(strings.TrimSpace(os.Getenv("ELASTICSEARCH_PREFIX")), "ratsmirror"),
		},
		Geocoder: Geocoder{
			Provider:     firstNonEmpty(strings.TrimSpace(os.Getenv("GEOCODER")), GeocoderNominatim),
			NominatimURL: strings.TrimSpace(os.Getenv("NOMINATIM_URL")),
			OpenCageKey:  strings.TrimSpace(os.Getenv("OPENCAGE_KEY")),
			UserAgent:    firstNonEmpty(strings.TrimSpace(os.Getenv("GEOCODER_USER_AGENT")), "ratsmirror"),
			OverpassURL:  strings.TrimSpace(os.Getenv("OVERPASS_URL")),
		},
	}

	if path := strings.TrimSpace(os.Getenv("SETTINGS_FILE")); path != "" {
		if err := cfg.applySettingsFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applySettingsFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	var s settingsFile
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("parse settings file %s: %w", path, err)
	}
	if len(s.CityAffixes) > 0 {
		c.CityAffixes = s.CityAffixes
	}
	if s.FallbackCity != "" {
		c.FallbackCity = s.FallbackCity
	}
	if s.SearchSuffix != "" {
		c.SearchSuffix = s.SearchSuffix
	}
	return nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Language != "german" && c.Language != "english" {
		return fmt.Errorf("LANGUAGE must be german or english, got %q", c.Language)
	}
	switch c.Geocoder.Provider {
	case GeocoderNominatim:
	case GeocoderOpenCage:
		if c.Geocoder.OpenCageKey == "" {
			return fmt.Errorf("OPENCAGE_KEY is required for the opencage geocoder")
		}
	default:
		return fmt.Errorf("GEOCODER must be nominatim or opencage, got %q", c.Geocoder.Provider)
	}
	return nil
}

// EffectiveEntrypoint honours the mirror override.
func (c *Config) EffectiveEntrypoint() string {
	if c.Mirror != "" {
		return c.Mirror
	}
	return c.Entrypoint
}

// Workers is the file pipeline fan-out, respecting the single-thread
// debug switch.
func (c *Config) Workers() int {
	if c.ForceSinglethread {
		return 1
	}
	if c.MaxWorkers > 0 {
		return c.MaxWorkers
	}
	return runtime.NumCPU()
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
