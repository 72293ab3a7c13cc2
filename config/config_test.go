package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/models"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 1, cfg.Ingest.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Ingest.RetryDelay)
	assert.Equal(t, 180, cfg.Maintenance.HistoryRetentionDays)
	assert.Equal(t, 7*24*time.Hour, cfg.Maintenance.PriceDropWindow)
	assert.Equal(t, 24*time.Hour, cfg.Maintenance.NewListingWindow)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("INGEST_WORKERS", "4")
	t.Setenv("PROVIDER_SOURCES", "Acme=@https://feeds.example.com/acme.csv,beta=/srv/feeds/beta")
	t.Setenv("SCHEDULE_PROVIDERS", "acme,beta")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, []string{"acme", "beta"}, cfg.Server.ScheduleProviders)
	assert.Equal(t, []string{"acme", "beta"}, cfg.ProviderNames())
}

func TestScheduledProviders(t *testing.T) {
	cfg := &Config{}
	cfg.Source.Providers = map[string]string{"Zeta Homes": "/srv/zeta", "acme": "@https://feeds.example.com/acme.csv"}

	assert.Equal(t, []string{"acme", "zeta-homes"}, cfg.ScheduledProviders())

	cfg.Server.ScheduleProviders = []string{"beta"}
	assert.Equal(t, []string{"beta"}, cfg.ScheduledProviders())

	assert.Empty(t, (&Config{}).ScheduledProviders())
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.Backend = BackendPostgres
	cfg.Maintenance.HistoryRetentionDays = 180
	assert.Error(t, cfg.Validate())

	cfg.Storage.DatabaseURL = "postgres://localhost/catalog"
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Ingest.Workers)

	cfg.Storage.Backend = "mysql"
	assert.Error(t, cfg.Validate())
}

func TestSourceFor(t *testing.T) {
	cfg := &Config{}
	cfg.Source.FeedDir = "feeds"
	cfg.Source.Providers = map[string]string{"Acme": "@https://feeds.example.com/acme.csv"}

	assert.Equal(t, "override.json", cfg.SourceFor("acme", " override.json "))
	assert.Equal(t, "@https://feeds.example.com/acme.csv", cfg.SourceFor(" ACME ", ""))
	assert.Equal(t, filepath.Join("feeds", "new-provider"), cfg.SourceFor("New Provider", ""))
}

func TestLookups(t *testing.T) {
	l := DefaultLookups()

	key, ok := l.Amenity("Gimnásio")
	assert.True(t, ok)
	assert.Equal(t, "gym", key)

	typ, ok := l.BadgeType("  SIN AVAL ")
	assert.True(t, ok)
	assert.Equal(t, models.BadgeNoGuarantee, typ)

	_, ok = l.Amenity("helipuerto")
	assert.False(t, ok)
}

func TestLoadLookupsMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lookups.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
amenities:
  "Sala de Yoga": yoga_room
badges:
  "Cyber Day": DISCOUNT
`), 0o644))

	l, err := LoadLookups(path)
	require.NoError(t, err)

	key, ok := l.Amenity("sala de yoga")
	assert.True(t, ok)
	assert.Equal(t, "yoga_room", key)

	typ, ok := l.BadgeType("cyber day")
	assert.True(t, ok)
	assert.Equal(t, models.BadgeDiscount, typ)

	// defaults survive the merge
	_, ok = l.Amenity("piscina")
	assert.True(t, ok)

	_, err = LoadLookups(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
