// Package download retrieves the upstream reference datasets into a local
// cache and unpacks the files the study needs.
package download

import (
	"fmt"
	"net/url"
	"path"

	"communestat/settings"
)

// Dataset is one upstream archive: where to get it, where to cache it and
// which archive members matter.
type Dataset struct {
	Name    string
	URL     string
	Archive string // cache file name under the download folder
	Pattern string // regexp selecting the members to extract
}

// URL templates of the upstream providers. Admin Express and BD TOPO
// archives are keyed by a release date, BD TOPO additionally by
// departement; the OSM extract is keyed by region. CORINE is distributed
// over authenticated FTP.
const (
	adminExpressURL = "https://wxs.ign.fr/x02uy2aiwjo9bm8ce5plwqmr/telechargement/prepackage/" +
		"ADMINEXPRESS-COG-CARTO_SHP_WGS84G_PACK_%[1]s$" +
		"ADMIN-EXPRESS-COG-CARTO_3-1__SHP__FRA_WM_%[1]s/file/" +
		"ADMIN-EXPRESS-COG-CARTO_3-1__SHP__FRA_WM_%[1]s.7z"

	corineURL = "ftp://%s@ftp3.ign.fr/CLC18_SHP__FRA_2019-08-21.7z"

	bdtopoURL = "https://wxs.ign.fr/859x8t863h6a09o9o6fy4v60/telechargement/prepackage/" +
		"BDTOPOV3-TOUSTHEMES-DEPARTEMENT_GPKG_PACK_221$" +
		"BDTOPO_3-0_TOUSTHEMES_GPKG_LAMB93_D%[1]s_%[2]s/file/" +
		"BDTOPO_3-0_TOUSTHEMES_GPKG_LAMB93_D%[1]s_%[2]s.7z"

	osmURL = "http://download.geofabrik.de/europe/france/%s-latest-free.shp.zip"
)

// Datasets builds the dataset catalog for the configured study area.
func Datasets(config settings.DownloadConfig) []Dataset {
	corineAuth := url.UserPassword(config.CorineUser, config.CorinePassword).String()

	catalog := []Dataset{
		{
			Name:    "admin-express",
			URL:     fmt.Sprintf(adminExpressURL, config.Millesime),
			Pattern: `.*[/]COMMUNE[.].*`,
		},
		{
			Name:    "corine",
			URL:     fmt.Sprintf(corineURL, corineAuth),
			Pattern: `.*[/]CLC18_FR[.].*`,
		},
		{
			Name:    "bdtopo",
			URL:     fmt.Sprintf(bdtopoURL, config.Departement, config.Millesime),
			Pattern: `.*gpkg$`,
		},
		{
			Name:    "osm-traffic",
			URL:     fmt.Sprintf(osmURL, config.Region),
			Pattern: `.*traffic_a_free_1[.].*`,
		},
	}

	for i := range catalog {
		catalog[i].Archive = archiveName(catalog[i].URL)
	}

	return catalog
}

func archiveName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	return path.Base(parsed.Path)
}
