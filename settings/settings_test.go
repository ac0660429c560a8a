package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("COMMUNESTAT_DB", "")
	t.Setenv("COMMUNESTAT_SRID", "")
	t.Setenv("COMMUNESTAT_DEPARTEMENT", "")

	require.NoError(t, InitializeConfig())
	cfg := GetConfig()

	assert.Contains(t, cfg.Database.ConnectionString, "localhost:5432")
	assert.Equal(t, 2154, cfg.Pipeline.SRID)
	assert.Equal(t, "67", cfg.Pipeline.Departement)
	assert.Equal(t, 10.0, cfg.Pipeline.BufferDistance)
	assert.Equal(t, 8080, cfg.Server.Port)
	// The CORINE password never ships with the binary.
	assert.Empty(t, cfg.Download.CorinePassword)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("COMMUNESTAT_DB", "postgres://geo:geo@db:5432/geo")
	t.Setenv("COMMUNESTAT_SRID", "3857")
	t.Setenv("COMMUNESTAT_DEPARTEMENT", "68")
	t.Setenv("COMMUNESTAT_BUFFER_DISTANCE", "7.5")

	require.NoError(t, InitializeConfig())
	cfg := GetConfig()

	assert.Equal(t, "postgres://geo:geo@db:5432/geo", cfg.Database.ConnectionString)
	assert.Equal(t, 3857, cfg.Pipeline.SRID)
	assert.Equal(t, "68", cfg.Pipeline.Departement)
	assert.Equal(t, 7.5, cfg.Pipeline.BufferDistance)
	// The pipeline departement follows the download departement.
	assert.Equal(t, cfg.Download.Departement, cfg.Pipeline.Departement)
}

func TestLoadConfigInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("COMMUNESTAT_SRID", "not-a-number")
	t.Setenv("COMMUNESTAT_BUFFER_DISTANCE", "wide")

	require.NoError(t, InitializeConfig())
	cfg := GetConfig()

	assert.Equal(t, 2154, cfg.Pipeline.SRID)
	assert.Equal(t, 10.0, cfg.Pipeline.BufferDistance)
}
