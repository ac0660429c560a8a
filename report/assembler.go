// Package report assembles the final per-region statistics table from the
// relations the pipeline materialized.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// AggregateKind selects the measure summed over a join relation. Areas are
// reported in km², perimeters and lengths in km (the relations hold metric
// coordinates).
type AggregateKind int

const (
	AreaSum AggregateKind = iota
	PerimeterSum
	LengthSum
)

func (k AggregateKind) expression() string {
	switch k {
	case AreaSum:
		return "SUM(ST_Area(geometry)) * 1e-6"
	case PerimeterSum:
		return "SUM(ST_Perimeter(geometry)) * 1e-3"
	case LengthSum:
		return "SUM(ST_Length(geometry)) * 1e-3"
	}
	return ""
}

// Aggregate is one output column computed from a join relation.
type Aggregate struct {
	Kind   AggregateKind
	Column string
}

// Join is one grouped relation contributing columns to the report.
type Join struct {
	Relation   string
	Aggregates []Aggregate
}

// Spec describes a report: a base relation carrying the region key, an
// optional label column, a region prefix scoping every relation, and the
// join relations with their aggregates. All joined relations must carry the
// key column with the same semantics as the base relation.
type Spec struct {
	Base         string
	KeyColumn    string
	LabelColumn  string
	RegionPrefix string
	Joins        []Join
}

// Row is one report row. A nil aggregate value means the region had no
// contribution in that relation; callers must not conflate it with zero.
type Row struct {
	Key    string              `json:"key"`
	Label  *string             `json:"label,omitempty"`
	Values map[string]*float64 `json:"values"`
}

var (
	identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	prefixPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Validate checks the spec before any SQL is rendered.
func (s Spec) Validate() error {
	names := []string{s.Base, s.KeyColumn}
	if s.LabelColumn != "" {
		names = append(names, s.LabelColumn)
	}
	for _, j := range s.Joins {
		names = append(names, j.Relation)
		for _, a := range j.Aggregates {
			if a.Kind.expression() == "" {
				return fmt.Errorf("unknown aggregate kind %d", a.Kind)
			}
			names = append(names, a.Column)
		}
	}
	for _, n := range names {
		if !identifierPattern.MatchString(n) {
			return fmt.Errorf("'%s' is not a valid relation or column name", n)
		}
	}
	if !prefixPattern.MatchString(s.RegionPrefix) {
		return fmt.Errorf("'%s' is not a valid region prefix", s.RegionPrefix)
	}
	return nil
}

// Columns returns the aggregate column names in spec order.
func (s Spec) Columns() []string {
	var columns []string
	for _, j := range s.Joins {
		for _, a := range j.Aggregates {
			columns = append(columns, a.Column)
		}
	}
	return columns
}

// BuildQuery renders the report query: each join relation grouped by the
// key column and scoped to the region prefix, full-outer-joined onto the
// base relation, with the whole result filtered back to the prefix. Regions
// absent from a join relation keep NULL in that relation's columns.
func (s Spec) BuildQuery() string {
	var b strings.Builder

	fmt.Fprintf(&b, "SELECT %q", s.KeyColumn)
	if s.LabelColumn != "" {
		fmt.Fprintf(&b, ",\n  base.%q", s.LabelColumn)
	}
	for i, j := range s.Joins {
		for _, a := range j.Aggregates {
			fmt.Fprintf(&b, ",\n  j%d.%q", i, a.Column)
		}
	}

	fmt.Fprintf(&b, "\nFROM public.%q AS base", s.Base)

	for i, j := range s.Joins {
		fmt.Fprintf(&b, "\nFULL OUTER JOIN (\n  SELECT %q", s.KeyColumn)
		for _, a := range j.Aggregates {
			fmt.Fprintf(&b, ",\n    %s AS %q", a.Kind.expression(), a.Column)
		}
		fmt.Fprintf(&b, "\n  FROM public.%q", j.Relation)
		fmt.Fprintf(&b, "\n  WHERE %q LIKE '%s%%'", s.KeyColumn, s.RegionPrefix)
		fmt.Fprintf(&b, "\n  GROUP BY %q", s.KeyColumn)
		fmt.Fprintf(&b, "\n) AS j%d USING (%q)", i, s.KeyColumn)
	}

	fmt.Fprintf(&b, "\nWHERE %q LIKE '%s%%'", s.KeyColumn, s.RegionPrefix)
	fmt.Fprintf(&b, "\nORDER BY %q;", s.KeyColumn)

	return b.String()
}

// Querier is the query side of the spatial store. *database.Store
// satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Assemble runs the report query and scans the result. Every base-relation
// row matching the region prefix appears exactly once.
func Assemble(ctx context.Context, store Querier, spec Spec) ([]Row, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	rows, err := store.Query(ctx, spec.BuildQuery())
	if err != nil {
		return nil, fmt.Errorf("report on '%s' failed: %w", spec.Base, err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		row, err := scanRow(spec, values)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// scanRow maps one result tuple onto a Row. NULL aggregates stay nil.
func scanRow(spec Spec, values []any) (Row, error) {
	expected := 1 + len(spec.Columns())
	if spec.LabelColumn != "" {
		expected++
	}
	if len(values) != expected {
		return Row{}, fmt.Errorf("report row has %d columns, expected %d", len(values), expected)
	}

	row := Row{Values: make(map[string]*float64, len(spec.Columns()))}

	key, ok := values[0].(string)
	if !ok {
		return Row{}, fmt.Errorf("region key %v is not textual", values[0])
	}
	row.Key = key

	next := 1
	if spec.LabelColumn != "" {
		if values[next] != nil {
			label, ok := values[next].(string)
			if !ok {
				return Row{}, fmt.Errorf("label %v is not textual", values[next])
			}
			row.Label = &label
		}
		next++
	}

	for _, column := range spec.Columns() {
		if values[next] == nil {
			row.Values[column] = nil
		} else {
			value, err := toFloat(values[next])
			if err != nil {
				return Row{}, fmt.Errorf("column %s: %w", column, err)
			}
			row.Values[column] = &value
		}
		next++
	}

	return row, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%v is not numeric", v)
}

// WriteCSV writes the report with a header row. NULL values become empty
// fields, not zeros.
func WriteCSV(w io.Writer, spec Spec, rows []Row) error {
	writer := csv.NewWriter(w)

	header := []string{spec.KeyColumn}
	if spec.LabelColumn != "" {
		header = append(header, spec.LabelColumn)
	}
	header = append(header, spec.Columns()...)
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{row.Key}
		if spec.LabelColumn != "" {
			if row.Label != nil {
				record = append(record, *row.Label)
			} else {
				record = append(record, "")
			}
		}
		for _, column := range spec.Columns() {
			if value := row.Values[column]; value != nil {
				record = append(record, strconv.FormatFloat(*value, 'f', 6, 64))
			} else {
				record = append(record, "")
			}
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
