package download

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"communestat/settings"
)

func writeTestZip(t *testing.T, members map[string]string) string {
	t.Helper()

	src := filepath.Join(t.TempDir(), "test.zip")
	out, err := os.Create(src)
	require.NoError(t, err)

	writer := zip.NewWriter(out)
	for name, content := range members {
		w, err := writer.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	require.NoError(t, out.Close())

	return src
}

func TestExtractZipFiltersMembers(t *testing.T) {
	src := writeTestZip(t, map[string]string{
		"data/COMMUNE.shp":     "geometries",
		"data/COMMUNE.dbf":     "attributes",
		"data/DEPARTEMENT.shp": "other layer",
		"readme.txt":           "docs",
	})

	destDir := filepath.Join(t.TempDir(), "out")
	extracted, err := Extract(src, destDir, `.*[/]COMMUNE[.].*`)
	require.NoError(t, err)
	require.Len(t, extracted, 2)

	// Directory structure is flattened.
	for _, path := range extracted {
		assert.Equal(t, destDir, filepath.Dir(path))
	}

	content, err := os.ReadFile(filepath.Join(destDir, "COMMUNE.shp"))
	require.NoError(t, err)
	assert.Equal(t, "geometries", string(content))

	_, err = os.Stat(filepath.Join(destDir, "DEPARTEMENT.shp"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractNoMatch(t *testing.T) {
	src := writeTestZip(t, map[string]string{"readme.txt": "docs"})

	_, err := Extract(src, filepath.Join(t.TempDir(), "out"), `.*gpkg$`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no member")
}

func TestExtractBadPattern(t *testing.T) {
	src := writeTestZip(t, map[string]string{"readme.txt": "docs"})

	_, err := Extract(src, t.TempDir(), `[`)
	assert.Error(t, err)
}

func testDownloadConfig() settings.DownloadConfig {
	return settings.DownloadConfig{
		Folder:         "./data/download",
		Millesime:      "2022-04-15",
		Departement:    "67",
		Region:         "alsace",
		CorineUser:     "corine_user",
		CorinePassword: "corine_password",
	}
}

func TestDatasets(t *testing.T) {
	catalog := Datasets(testDownloadConfig())
	require.Len(t, catalog, 4)

	byName := make(map[string]Dataset, len(catalog))
	for _, dataset := range catalog {
		byName[dataset.Name] = dataset
	}

	admin := byName["admin-express"]
	assert.Contains(t, admin.URL, "2022-04-15")
	assert.Equal(t, "ADMIN-EXPRESS-COG-CARTO_3-1__SHP__FRA_WM_2022-04-15.7z", admin.Archive)

	corine := byName["corine"]
	assert.Contains(t, corine.URL, "ftp://")
	assert.Contains(t, corine.URL, "CLC18")

	bdtopo := byName["bdtopo"]
	assert.Contains(t, bdtopo.URL, "LAMB93_D67_2022-04-15")
	assert.Equal(t, "BDTOPO_3-0_TOUSTHEMES_GPKG_LAMB93_D67_2022-04-15.7z", bdtopo.Archive)

	osm := byName["osm-traffic"]
	assert.Contains(t, osm.URL, "alsace")
	assert.Equal(t, "alsace-latest-free.shp.zip", osm.Archive)
}
