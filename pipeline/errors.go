package pipeline

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// MissingInputError reports a step whose input relation does not exist.
type MissingInputError struct {
	Step     string
	Relation string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("step %s: input relation '%s' does not exist", e.Step, e.Relation)
}

// NameCollisionError reports a step whose output relation already exists.
// Outputs are never overwritten silently; callers drop prior outputs first.
type NameCollisionError struct {
	Step     string
	Relation string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("step %s: output relation '%s' already exists", e.Step, e.Relation)
}

// InvalidGeometryError reports a geometry incompatible with the declared
// target type or dimension. Inputs are repaired by the caller, not here.
type InvalidGeometryError struct {
	Step  string
	Cause error
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("step %s: invalid geometry: %v", e.Step, e.Cause)
}

func (e *InvalidGeometryError) Unwrap() error { return e.Cause }

// SchemaTransitionError reports an in-place schema change that failed. The
// transition runs in one transaction, so the relation keeps its previous
// schema, but the error is kept distinct because the step is not safe to
// retry without inspecting the relation first.
type SchemaTransitionError struct {
	Step     string
	Relation string
	Cause    error
}

func (e *SchemaTransitionError) Error() string {
	return fmt.Sprintf("step %s: schema transition on '%s' failed: %v", e.Step, e.Relation, e.Cause)
}

func (e *SchemaTransitionError) Unwrap() error { return e.Cause }

// StepError wraps any other failure with the identity of the failed step.
type StepError struct {
	Step  string
	Cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

// PostgreSQL error codes worth telling apart.
const (
	pgDuplicateTable    = "42P07"
	pgUndefinedTable    = "42P01"
	pgInvalidParameter  = "22023"
	pgDataException     = "22000"
	pgInternalError     = "XX000" // PostGIS raises lwgeom errors as internal errors
	pgCheckViolation    = "23514"
	pgInvalidGeometrySR = "22S00"
)

// classify maps a database error onto the step error taxonomy. Anything not
// recognized stays a plain StepError.
func classify(step string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDuplicateTable:
			return &NameCollisionError{Step: step, Relation: pgErr.TableName}
		case pgUndefinedTable:
			return &MissingInputError{Step: step, Relation: pgErr.TableName}
		case pgInvalidParameter, pgDataException, pgInternalError, pgCheckViolation, pgInvalidGeometrySR:
			return &InvalidGeometryError{Step: step, Cause: err}
		}
	}

	return &StepError{Step: step, Cause: err}
}
