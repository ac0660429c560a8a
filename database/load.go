package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"communestat/utils"
)

// Record is one normalized input feature. The download step leaves one
// parquet file per base table, with the provider's attribute of interest in
// code (INSEE code, land-cover class, road or equipment nature) and the
// geometry as WKT.
type Record struct {
	ID      string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY, repetitiontype=OPTIONAL"`
	Code    string  `parquet:"name=code, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY, repetitiontype=OPTIONAL"`
	Nom     string  `parquet:"name=nom, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY, repetitiontype=OPTIONAL"`
	Largeur float64 `parquet:"name=largeur, type=DOUBLE, repetitiontype=OPTIONAL"`
	Geom    string  `parquet:"name=geom, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY, repetitiontype=OPTIONAL"`
}

// Feature categories kept per provider; everything else is discarded at
// load time. Artificial land-cover classes 111-142 for CORINE, transport
// equipment and road natures for IGN, traffic classes for OSM.
var (
	corineClasses = []string{"111", "112", "121", "122", "123", "124",
		"131", "132", "133", "141", "142"}
	equipementIGNNatures = []string{"Aire de repos ou de service",
		"Autre équipement", "Carrefour", "Parking", "Péage",
		"Service dédié aux véhicules"}
	equipementOSMClasses = []string{"fuel", "parking", "parking_multistorey",
		"parking_underground", "service"}
	tronconNatures = []string{"Bretelle", "Rond-point", "Route à 1 chaussée",
		"Route à 2 chaussées", "Type autoroutier"}
)

type tableLoad struct {
	table    string
	file     string
	insert   string   // parameterized: id, attribute columns, geometry WKT last
	allowed  []string // whitelist on Record.Code, nil keeps everything
	withNom  bool
	withSize bool
}

func tableLoads(srid int) []tableLoad {
	return []tableLoad{
		{
			table:   "commune",
			file:    "commune.parquet",
			insert:  fmt.Sprintf(`INSERT INTO public.commune (id, insee_com, nom, geometry) VALUES ($1, $2, $3, ST_GeomFromText($4, %d))`, srid),
			withNom: true,
		},
		{
			table:   "corine",
			file:    "corine.parquet",
			insert:  fmt.Sprintf(`INSERT INTO public.corine (id, classe, geometry) VALUES ($1, $2, ST_GeomFromText($3, %d))`, srid),
			allowed: corineClasses,
		},
		{
			table:    "troncon",
			file:     "troncon.parquet",
			insert:   fmt.Sprintf(`INSERT INTO public.troncon (id, nature, largeur, geometry) VALUES ($1, $2, $3, ST_GeomFromText($4, %d))`, srid),
			allowed:  tronconNatures,
			withSize: true,
		},
		{
			table:   "equipement_ign",
			file:    "equipement_ign.parquet",
			insert:  fmt.Sprintf(`INSERT INTO public.equipement_ign (id, nature, geometry) VALUES ($1, $2, ST_GeomFromText($3, %d))`, srid),
			allowed: equipementIGNNatures,
		},
		{
			table:   "equipement_osm",
			file:    "equipement_osm.parquet",
			insert:  fmt.Sprintf(`INSERT INTO public.equipement_osm (id, nature, geometry) VALUES ($1, $2, ST_GeomFromText($3, %d))`, srid),
			allowed: equipementOSMClasses,
		},
	}
}

// Load creates the base tables and fills them from the normalized parquet
// files in folder. Existing base tables are dropped first; derived
// relations are left alone.
func Load(ctx context.Context, pool *pgxpool.Pool, folder string, srid int) error {
	if err := createBaseTables(ctx, pool, srid); err != nil {
		return fmt.Errorf("creating base tables: %w", err)
	}

	for _, load := range tableLoads(srid) {
		path := filepath.Join(folder, load.file)
		if err := loadParquet(ctx, pool, path, load); err != nil {
			return fmt.Errorf("loading %s: %w", load.table, err)
		}

		query := fmt.Sprintf(`CREATE INDEX %s_geom_idx ON public.%q USING GIST (geometry);`,
			load.table, load.table)
		if _, err := pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("indexing %s: %w", load.table, err)
		}
	}

	return nil
}

func createBaseTables(ctx context.Context, pool *pgxpool.Pool, srid int) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS postgis;

		DROP TABLE IF EXISTS public.commune CASCADE;
		DROP TABLE IF EXISTS public.corine CASCADE;
		DROP TABLE IF EXISTS public.troncon CASCADE;
		DROP TABLE IF EXISTS public.equipement_ign CASCADE;
		DROP TABLE IF EXISTS public.equipement_osm CASCADE;

		CREATE TABLE public.commune (
			id TEXT PRIMARY KEY,
			insee_com TEXT NOT NULL,
			nom TEXT,
			geometry geometry(Geometry, %[1]d)
		);

		CREATE TABLE public.corine (
			id TEXT PRIMARY KEY,
			classe TEXT,
			geometry geometry(Geometry, %[1]d)
		);

		CREATE TABLE public.troncon (
			id TEXT PRIMARY KEY,
			nature TEXT,
			largeur DOUBLE PRECISION,
			geometry geometry(Geometry, %[1]d)
		);

		CREATE TABLE public.equipement_ign (
			id TEXT PRIMARY KEY,
			nature TEXT,
			geometry geometry(Geometry, %[1]d)
		);

		CREATE TABLE public.equipement_osm (
			id TEXT PRIMARY KEY,
			nature TEXT,
			geometry geometry(Geometry, %[1]d)
		);
	`, srid)

	_, err := pool.Exec(ctx, query)
	return err
}

// loadParquet reads every record of one parquet file, drops the rows whose
// category is not whitelisted and inserts the rest in batched transactions.
func loadParquet(ctx context.Context, pool *pgxpool.Pool, path string, load tableLoad) error {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}

	pr, err := reader.NewParquetReader(fr, new(Record), 4)
	if err != nil {
		fr.Close()
		return fmt.Errorf("reading %s: %w", path, err)
	}

	numRows := int(pr.GetNumRows())
	records := make([]Record, numRows)
	if err := pr.Read(&records); err != nil {
		pr.ReadStop()
		fr.Close()
		return fmt.Errorf("reading %s: %w", path, err)
	}

	pr.ReadStop()
	fr.Close()

	kept := records[:0]
	for _, rec := range records {
		if load.allowed != nil && !utils.Contains(load.allowed, rec.Code) {
			continue
		}
		kept = append(kept, rec)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var loadErr error

	batchSize := 500
	numBatches := (len(kept) + batchSize - 1) / batchSize

	for i := 0; i < numBatches; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > len(kept) {
			end = len(kept)
		}

		wg.Add(1)
		go func(batch []Record) {
			defer wg.Done()

			if err := insertBatch(ctx, pool, load, batch); err != nil {
				mu.Lock()
				if loadErr == nil {
					loadErr = err
				}
				mu.Unlock()
			}
		}(kept[start:end])
	}

	wg.Wait()
	if loadErr != nil {
		return loadErr
	}

	log.Infof("Loaded %d/%d features into %s", len(kept), numRows, load.table)
	return nil
}

func insertBatch(ctx context.Context, pool *pgxpool.Pool, load tableLoad, batch []Record) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, rec := range batch {
		if err := insertRecord(ctx, tx, load, rec); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func insertRecord(ctx context.Context, tx pgx.Tx, load tableLoad, rec Record) error {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}

	args := []any{id, rec.Code}
	if load.withNom {
		args = append(args, rec.Nom)
	}
	if load.withSize {
		args = append(args, rec.Largeur)
	}
	args = append(args, rec.Geom)

	_, err := tx.Exec(ctx, load.insert, args...)
	return err
}
