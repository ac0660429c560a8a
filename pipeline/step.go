// Package pipeline sequences named, parameterized geometric transformations
// against a PostGIS database. Each step reads one or more existing relations
// and materializes a new one (Force2D excepted, which rewrites a column in
// place). Query text is rendered from typed parameters only; relation and
// column names are validated before they reach SQL.
package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// GeometryType is a generic (non ST_-prefixed) PostGIS geometry type.
type GeometryType string

const (
	Point           GeometryType = "Point"
	MultiPoint      GeometryType = "MultiPoint"
	LineString      GeometryType = "LineString"
	MultiLineString GeometryType = "MultiLineString"
	Polygon         GeometryType = "Polygon"
	MultiPolygon    GeometryType = "MultiPolygon"
)

// IsMulti reports whether the type is multipart.
func (t GeometryType) IsMulti() bool {
	return strings.HasPrefix(string(t), "Multi")
}

// Single returns the singlepart equivalent of the type.
func (t GeometryType) Single() GeometryType {
	return GeometryType(strings.TrimPrefix(string(t), "Multi"))
}

// Dimension returns the topological dimension of the type:
// 0 for points, 1 for lines, 2 for areas.
func (t GeometryType) Dimension() int {
	switch t.Single() {
	case Point:
		return 0
	case LineString:
		return 1
	case Polygon:
		return 2
	}
	return -1
}

var (
	identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	likePattern       = regexp.MustCompile(`^[A-Za-z0-9%_-]+$`)
)

func validIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("'%s' is not a valid relation or column name", name)
	}
	return nil
}

func validSRID(srid int) error {
	if srid <= 0 {
		return fmt.Errorf("%d is not a valid SRID", srid)
	}
	return nil
}

// Step is one named geometric transformation.
type Step interface {
	// Kind names the transformation variant.
	Kind() string
	// OutputRelation is the relation the step creates, empty for steps
	// that rewrite a relation in place.
	OutputRelation() string
	// InputRelations lists the relations the step reads.
	InputRelations() []string
	// Statements renders the SQL to execute, in order.
	Statements() []string
	// Transactional reports whether the statements must run inside a
	// single transaction.
	Transactional() bool
	// Validate checks the step parameters before any SQL is rendered.
	Validate() error
}

// name identifies a step in logs and errors: "kind output" or "kind target".
func name(s Step) string {
	target := s.OutputRelation()
	if target == "" {
		target = strings.Join(s.InputRelations(), ",")
	}
	return fmt.Sprintf("%s(%s)", s.Kind(), target)
}

func formatDistance(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}

// UnionAll unions every geometry of the input into a single row, cast to
// the target type at the given SRID, with a fresh sequential id.
type UnionAll struct {
	Output string
	Input  string
	SRID   int
	Type   GeometryType
}

func (s *UnionAll) Kind() string             { return "union" }
func (s *UnionAll) OutputRelation() string   { return s.Output }
func (s *UnionAll) InputRelations() []string { return []string{s.Input} }
func (s *UnionAll) Transactional() bool      { return false }

func (s *UnionAll) Validate() error {
	for _, n := range []string{s.Output, s.Input} {
		if err := validIdentifier(n); err != nil {
			return err
		}
	}
	if err := validSRID(s.SRID); err != nil {
		return err
	}
	if s.Type.Single() != Polygon {
		return fmt.Errorf("union target type must be Polygon or MultiPolygon, got %s", s.Type)
	}
	return nil
}

func (s *UnionAll) Statements() []string {
	return []string{unionStatement(s.Output, s.Input, "", "", s.SRID, s.Type)}
}

// UnionWhereLike is UnionAll restricted to rows whose key column matches a
// SQL LIKE pattern.
type UnionWhereLike struct {
	Output    string
	Input     string
	KeyColumn string
	Pattern   string
	SRID      int
	Type      GeometryType
}

func (s *UnionWhereLike) Kind() string             { return "union_like" }
func (s *UnionWhereLike) OutputRelation() string   { return s.Output }
func (s *UnionWhereLike) InputRelations() []string { return []string{s.Input} }
func (s *UnionWhereLike) Transactional() bool      { return false }

func (s *UnionWhereLike) Validate() error {
	for _, n := range []string{s.Output, s.Input, s.KeyColumn} {
		if err := validIdentifier(n); err != nil {
			return err
		}
	}
	if err := validSRID(s.SRID); err != nil {
		return err
	}
	if s.Type.Single() != Polygon {
		return fmt.Errorf("union target type must be Polygon or MultiPolygon, got %s", s.Type)
	}
	if !likePattern.MatchString(s.Pattern) {
		return fmt.Errorf("'%s' is not a valid LIKE pattern", s.Pattern)
	}
	return nil
}

func (s *UnionWhereLike) Statements() []string {
	return []string{unionStatement(s.Output, s.Input, s.KeyColumn, s.Pattern, s.SRID, s.Type)}
}

func unionStatement(output, input, keyColumn, pattern string, srid int, target GeometryType) string {
	expr := "ST_Union(geometry)"
	if target.IsMulti() {
		expr = fmt.Sprintf("ST_Multi(%s)", expr)
	}

	where := ""
	if keyColumn != "" {
		where = fmt.Sprintf("\n  WHERE %q LIKE '%s'", keyColumn, pattern)
	}

	return fmt.Sprintf(`CREATE TABLE public.%q AS (
  SELECT ROW_NUMBER() OVER () AS id,
    %s::geometry(%s, %d) AS geometry
  FROM public.%q%s
);`, output, expr, target, srid, input, where)
}

// Buffer expands every geometry of the input outward by a fixed planar
// distance, then unions the results into a single multipolygon row. The
// distance unit is whatever the SRID implies.
type Buffer struct {
	Output   string
	Input    string
	Distance float64
	SRID     int
}

func (s *Buffer) Kind() string             { return "buffer" }
func (s *Buffer) OutputRelation() string   { return s.Output }
func (s *Buffer) InputRelations() []string { return []string{s.Input} }
func (s *Buffer) Transactional() bool      { return false }

func (s *Buffer) Validate() error {
	for _, n := range []string{s.Output, s.Input} {
		if err := validIdentifier(n); err != nil {
			return err
		}
	}
	if err := validSRID(s.SRID); err != nil {
		return err
	}
	if s.Distance <= 0 {
		return fmt.Errorf("buffer distance must be positive, got %v", s.Distance)
	}
	return nil
}

func (s *Buffer) Statements() []string {
	return []string{fmt.Sprintf(`CREATE TABLE public.%q AS (
  SELECT ROW_NUMBER() OVER () AS id,
    ST_Multi(ST_Union(ST_Buffer(geometry, %s)))::geometry(MultiPolygon, %d) AS geometry
  FROM public.%q
);`, s.Output, formatDistance(s.Distance), s.SRID, s.Input)}
}

// Clip intersects every spatially-intersecting pair of left x right, dumps
// multipart results into single parts and keeps only parts whose topological
// dimension equals KeepDims. Unmatched rows on either side are dropped
// (inner spatial join). Extra columns may be carried over from either side.
type Clip struct {
	Output       string
	Left         string
	Right        string
	KeepDims     int
	LeftColumns  []string
	RightColumns []string
}

func (s *Clip) Kind() string             { return "clip" }
func (s *Clip) OutputRelation() string   { return s.Output }
func (s *Clip) InputRelations() []string { return []string{s.Left, s.Right} }
func (s *Clip) Transactional() bool      { return false }

func (s *Clip) Validate() error {
	names := []string{s.Output, s.Left, s.Right}
	names = append(names, s.LeftColumns...)
	names = append(names, s.RightColumns...)
	for _, n := range names {
		if err := validIdentifier(n); err != nil {
			return err
		}
	}
	if s.KeepDims < 0 || s.KeepDims > 2 {
		return fmt.Errorf("keep dimension must be 0, 1 or 2, got %d", s.KeepDims)
	}
	return nil
}

func (s *Clip) Statements() []string {
	var fields strings.Builder
	for _, c := range s.LeftColumns {
		fmt.Fprintf(&fields, "a.%q,\n      ", c)
	}
	for _, c := range s.RightColumns {
		fmt.Fprintf(&fields, "b.%q,\n      ", c)
	}

	return []string{fmt.Sprintf(`CREATE TABLE public.%q AS (
  SELECT clipped.*
  FROM (
    SELECT ROW_NUMBER() OVER () AS id,
      %s(ST_Dump(ST_Intersection(a.geometry, b.geometry))).geom AS geometry
    FROM public.%q AS a
      INNER JOIN public.%q AS b
        ON ST_Intersects(a.geometry, b.geometry)
  ) AS clipped
  WHERE ST_Dimension(clipped.geometry) = %d
);`, s.Output, fields.String(), s.Left, s.Right, s.KeepDims)}
}

// DissolveCluster concatenates two relations, clusters touching or
// overlapping geometries with a zero-distance DBSCAN, unions the geometry
// of each cluster and dumps the result to single-part polygons with fresh
// ids. Isolated geometries come out as singleton clusters.
type DissolveCluster struct {
	Output string
	InputA string
	InputB string
	SRID   int
}

func (s *DissolveCluster) Kind() string             { return "dissolve" }
func (s *DissolveCluster) OutputRelation() string   { return s.Output }
func (s *DissolveCluster) InputRelations() []string { return []string{s.InputA, s.InputB} }
func (s *DissolveCluster) Transactional() bool      { return false }

func (s *DissolveCluster) Validate() error {
	for _, n := range []string{s.Output, s.InputA, s.InputB} {
		if err := validIdentifier(n); err != nil {
			return err
		}
	}
	return validSRID(s.SRID)
}

func (s *DissolveCluster) Statements() []string {
	return []string{fmt.Sprintf(`CREATE TABLE public.%q AS (
  SELECT ROW_NUMBER() OVER () AS id,
    (ST_Dump(ST_Union(geometry))).geom::geometry(Polygon, %d) AS geometry
  FROM (
    SELECT geometry,
      ST_ClusterDBSCAN(geometry, 0, 1) OVER () AS _clst
    FROM (
      SELECT geometry
      FROM public.%q
      UNION ALL
      SELECT geometry
      FROM public.%q
    ) AS table_union
  ) AS geometric_clustering
  GROUP BY _clst
);`, s.Output, s.SRID, s.InputA, s.InputB)}
}

// Force2D rewrites the geometry column of a relation in place: reproject to
// the target SRID, add a 2D column, backfill it by flattening Z, drop the
// original column and rename the new one into its place. The five
// statements must run in one transaction, otherwise a mid-sequence failure
// leaves the relation with both or neither geometry column.
type Force2D struct {
	Relation string
	Type     GeometryType
	SRID     int
}

func (s *Force2D) Kind() string             { return "force2d" }
func (s *Force2D) OutputRelation() string   { return "" }
func (s *Force2D) InputRelations() []string { return []string{s.Relation} }
func (s *Force2D) Transactional() bool      { return true }

func (s *Force2D) Validate() error {
	if err := validIdentifier(s.Relation); err != nil {
		return err
	}
	if err := validSRID(s.SRID); err != nil {
		return err
	}
	if s.Type.Dimension() < 0 {
		return fmt.Errorf("'%s' is not a known geometry type", s.Type)
	}
	return nil
}

func (s *Force2D) Statements() []string {
	return []string{
		fmt.Sprintf(`ALTER TABLE public.%q
  ALTER COLUMN geometry
  TYPE Geometry(%sZ, %d)
  USING ST_Transform(geometry, %d);`, s.Relation, s.Type, s.SRID, s.SRID),
		fmt.Sprintf(`ALTER TABLE public.%q
  ADD COLUMN geometry2d geometry(%s, %d);`, s.Relation, s.Type, s.SRID),
		fmt.Sprintf(`UPDATE public.%q
  SET geometry2d = ST_Force2D(geometry);`, s.Relation),
		fmt.Sprintf(`ALTER TABLE public.%q
  DROP COLUMN geometry;`, s.Relation),
		fmt.Sprintf(`ALTER TABLE public.%q
  RENAME COLUMN geometry2d TO geometry;`, s.Relation),
	}
}
