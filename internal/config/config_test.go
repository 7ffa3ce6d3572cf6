package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ratsmirror")
	t.Setenv("OPARL_ENTRYPOINT", "https://oparl.example.org/system")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://oparl.example.org/system", cfg.Entrypoint)
	assert.True(t, cfg.DownloadFiles)
	assert.False(t, cfg.AllowShrinkage)
	assert.Equal(t, "german", cfg.Language)
	assert.Equal(t, GeocoderNominatim, cfg.Geocoder.Provider)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.Search.Addresses)
	assert.Equal(t, "ratsmirror", cfg.Search.Prefix)
	assert.Positive(t, cfg.Workers())
}

func TestLoadRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadRejectsBadLanguage(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ratsmirror")
	t.Setenv("LANGUAGE", "klingon")

	_, err := Load()
	assert.ErrorContains(t, err, "LANGUAGE")
}

func TestOpenCageNeedsKey(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ratsmirror")
	t.Setenv("GEOCODER", "opencage")
	t.Setenv("OPENCAGE_KEY", "")

	_, err := Load()
	assert.ErrorContains(t, err, "OPENCAGE_KEY")

	t.Setenv("OPENCAGE_KEY", "secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, GeocoderOpenCage, cfg.Geocoder.Provider)
}

func TestSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"city_affixes: [Hansestadt, Stadt]\nfallback_city: Rostock\n"), 0o644))

	t.Setenv("DATABASE_URL", "postgres://localhost/ratsmirror")
	t.Setenv("SETTINGS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Hansestadt", "Stadt"}, cfg.CityAffixes)
	assert.Equal(t, "Rostock", cfg.FallbackCity)
	assert.Equal(t, "Deutschland", cfg.SearchSuffix)
}

func TestMirrorOverridesEntrypoint(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ratsmirror")
	t.Setenv("OPARL_ENTRYPOINT", "https://ris.example.org/system")
	t.Setenv("OPARL_MIRROR", "https://mirror.example.org/system")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.org/system", cfg.EffectiveEntrypoint())
}

func TestForceSinglethread(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ratsmirror")
	t.Setenv("FORCE_SINGLETHREAD", "true")
	t.Setenv("MAX_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Workers())
}
