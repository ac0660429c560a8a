package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"communestat/settings"
)

// Store is an explicit handle on the spatial database. Every pipeline step
// and the report assembler go through a Store rather than an ambient
// connection, so tests can substitute a double.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens (or reuses) the communestat connection pool and wraps it.
func NewStore(config settings.DatabaseConfig) (*Store, error) {
	pool, err := GetDBPool("communestat", config)
	if err != nil {
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Exec runs a single SQL statement.
func (s *Store) Exec(ctx context.Context, sql string) error {
	_, err := s.pool.Exec(ctx, sql)
	return err
}

// ExecTx runs several statements inside one transaction; either all of them
// take effect or none does. Used for in-place schema transitions.
func (s *Store) ExecTx(ctx context.Context, stmts []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Query runs a SQL statement expected to return rows.
func (s *Store) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.pool.Query(ctx, sql, args...)
}

// RelationExists reports whether a table or view with the given name exists
// in the public schema.
func (s *Store) RelationExists(ctx context.Context, relation string) (bool, error) {
	var regclass *string
	err := s.pool.QueryRow(ctx,
		"SELECT to_regclass($1)::text", "public."+relation).Scan(&regclass)
	if err != nil {
		return false, err
	}

	return regclass != nil, nil
}

// SRID returns the spatial reference identifier shared by all geometries of
// a relation. Relations mixing SRIDs are rejected.
func (s *Store) SRID(ctx context.Context, relation string) (int, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT ST_SRID(geometry) FROM public.%q;`, relation)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var srids []int
	for rows.Next() {
		var srid int
		if err := rows.Scan(&srid); err != nil {
			return 0, err
		}
		srids = append(srids, srid)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(srids) == 0 {
		return 0, fmt.Errorf("relation '%s' has no geometries", relation)
	}
	if len(srids) > 1 {
		return 0, fmt.Errorf("relation '%s' mixes %d SRIDs", relation, len(srids))
	}

	return srids[0], nil
}

// GeometryType returns the single geometry type of a relation, without the
// PostGIS ST_ prefix. When allowMulti is false, multipart types are mapped
// to their singlepart equivalent. Relations holding more than one geometry
// type are rejected.
func (s *Store) GeometryType(ctx context.Context, relation string, allowMulti bool) (string, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT ST_GeometryType(geometry) FROM public.%q;`, relation)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return "", err
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if len(types) != 1 {
		return "", fmt.Errorf("relation '%s' has %d geometry types, expected one", relation, len(types))
	}

	geometryType, ok := strings.CutPrefix(types[0], "ST_")
	if !ok {
		return "", fmt.Errorf("'%s' is not a PostGIS geometry type", types[0])
	}
	if !allowMulti {
		geometryType = strings.TrimPrefix(geometryType, "Multi")
	}

	return geometryType, nil
}

// CreateSpatialIndex builds a GIST index on the geometry column.
func (s *Store) CreateSpatialIndex(ctx context.Context, relation string) error {
	query := fmt.Sprintf(
		`CREATE INDEX %s_geom_idx ON public.%q USING GIST (geometry);`,
		relation, relation)

	_, err := s.pool.Exec(ctx, query)
	return err
}

// DropRelation drops a table or view, cascading to dependents. Missing
// relations are not an error.
func (s *Store) DropRelation(ctx context.Context, kind, relation string) error {
	kind = strings.ToUpper(kind)
	if kind != "TABLE" && kind != "VIEW" {
		return fmt.Errorf("'%s' is not a valid relation kind, use TABLE or VIEW", kind)
	}

	query := fmt.Sprintf(`DROP %s IF EXISTS public.%q CASCADE;`, kind, relation)
	_, err := s.pool.Exec(ctx, query)
	return err
}
