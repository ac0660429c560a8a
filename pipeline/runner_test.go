package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore executes steps against an in-memory relation set instead of a
// database, recording every statement it is handed.
type fakeStore struct {
	relations map[string]int // relation -> SRID
	executed  []string
	txBatches [][]string
	execErr   map[string]error // statement substring -> error to return
}

func newFakeStore(srid int, relations ...string) *fakeStore {
	s := &fakeStore{relations: make(map[string]int)}
	for _, relation := range relations {
		s.relations[relation] = srid
	}
	return s
}

func (s *fakeStore) Exec(ctx context.Context, sql string) error {
	for substr, err := range s.execErr {
		if strings.Contains(sql, substr) {
			return err
		}
	}
	s.executed = append(s.executed, sql)
	return nil
}

func (s *fakeStore) ExecTx(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		for substr, err := range s.execErr {
			if strings.Contains(stmt, substr) {
				return err
			}
		}
	}
	s.txBatches = append(s.txBatches, stmts)
	return nil
}

func (s *fakeStore) RelationExists(ctx context.Context, relation string) (bool, error) {
	_, ok := s.relations[relation]
	return ok, nil
}

func (s *fakeStore) SRID(ctx context.Context, relation string) (int, error) {
	srid, ok := s.relations[relation]
	if !ok {
		return 0, errors.New("relation does not exist")
	}
	return srid, nil
}

func (s *fakeStore) CreateSpatialIndex(ctx context.Context, relation string) error {
	return nil
}

// creatingFakeStore registers step outputs as they are created, so chained
// steps see the relations of earlier ones.
type creatingFakeStore struct {
	*fakeStore
}

func (s *creatingFakeStore) Exec(ctx context.Context, sql string) error {
	if err := s.fakeStore.Exec(ctx, sql); err != nil {
		return err
	}
	// Statements are rendered by the steps under test, so pulling the
	// relation name out of the prefix is reliable enough here.
	const prefix = `CREATE TABLE public."`
	if strings.HasPrefix(sql, prefix) {
		rest := sql[len(prefix):]
		if i := strings.IndexByte(rest, '"'); i > 0 {
			s.relations[rest[:i]] = 2154
		}
	}
	return nil
}

func TestCheckOrder(t *testing.T) {
	base := []string{"commune", "corine"}

	t.Run("valid chain", func(t *testing.T) {
		steps := []Step{
			&UnionAll{Output: "zone_urbaine", Input: "corine", SRID: 2154, Type: MultiPolygon},
			&Clip{Output: "corine_commune", Left: "commune", Right: "zone_urbaine", KeepDims: 2},
		}
		assert.NoError(t, CheckOrder(steps, base))
	})

	t.Run("input neither base nor earlier output", func(t *testing.T) {
		steps := []Step{
			&UnionAll{Output: "out", Input: "troncon", SRID: 2154, Type: MultiPolygon},
		}
		err := CheckOrder(steps, base)

		var missing *MissingInputError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "troncon", missing.Relation)
	})

	t.Run("duplicate output", func(t *testing.T) {
		steps := []Step{
			&UnionAll{Output: "zone_urbaine", Input: "corine", SRID: 2154, Type: MultiPolygon},
			&UnionAll{Output: "zone_urbaine", Input: "commune", SRID: 2154, Type: MultiPolygon},
		}
		err := CheckOrder(steps, base)

		var collision *NameCollisionError
		require.ErrorAs(t, err, &collision)
		assert.Equal(t, "zone_urbaine", collision.Relation)
	})

	t.Run("output shadowing a base relation", func(t *testing.T) {
		steps := []Step{
			&UnionAll{Output: "commune", Input: "corine", SRID: 2154, Type: MultiPolygon},
		}
		var collision *NameCollisionError
		require.ErrorAs(t, CheckOrder(steps, base), &collision)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		steps := []Step{
			&Buffer{Output: "out", Input: "corine", Distance: -1, SRID: 2154},
		}
		var stepErr *StepError
		require.ErrorAs(t, CheckOrder(steps, base), &stepErr)
	})
}

func TestRunExecutesInOrder(t *testing.T) {
	store := &creatingFakeStore{newFakeStore(2154, "commune", "corine")}
	steps := []Step{
		&UnionAll{Output: "zone_urbaine", Input: "corine", SRID: 2154, Type: MultiPolygon},
		&Clip{Output: "corine_commune", Left: "commune", Right: "zone_urbaine", KeepDims: 2},
	}

	require.NoError(t, Run(context.Background(), store, steps))
	require.Len(t, store.executed, 2)
	assert.Contains(t, store.executed[0], `"zone_urbaine"`)
	assert.Contains(t, store.executed[1], `"corine_commune"`)
	assert.Contains(t, store.relations, "corine_commune")
}

func TestRunMissingInput(t *testing.T) {
	store := newFakeStore(2154, "commune")
	steps := []Step{
		&UnionAll{Output: "out", Input: "corine", SRID: 2154, Type: MultiPolygon},
	}

	err := Run(context.Background(), store, steps)

	var missing *MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "corine", missing.Relation)
	assert.Empty(t, store.executed)
}

func TestRunOutputCollision(t *testing.T) {
	// Outputs of a previous run are still present. The first colliding step
	// must fail before any of its statements run, and nothing after it may
	// execute either.
	store := newFakeStore(2154, "commune", "corine", "zone_urbaine")
	steps := []Step{
		&UnionAll{Output: "zone_urbaine", Input: "corine", SRID: 2154, Type: MultiPolygon},
		&Clip{Output: "corine_commune", Left: "commune", Right: "corine", KeepDims: 2},
	}

	err := Run(context.Background(), store, steps)

	var collision *NameCollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "zone_urbaine", collision.Relation)
	assert.Empty(t, store.executed)
}

func TestRunSRIDMismatch(t *testing.T) {
	store := newFakeStore(2154, "commune")
	store.relations["corine"] = 4326
	steps := []Step{
		&Clip{Output: "corine_commune", Left: "commune", Right: "corine", KeepDims: 2},
	}

	err := Run(context.Background(), store, steps)

	var invalid *InvalidGeometryError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "2154")
	assert.Contains(t, err.Error(), "4326")
	assert.Empty(t, store.executed)
}

func TestRunStopsOnFirstFailure(t *testing.T) {
	store := &creatingFakeStore{newFakeStore(2154, "commune", "corine")}
	store.execErr = map[string]error{`"zone_urbaine"`: errors.New("disk full")}
	steps := []Step{
		&UnionAll{Output: "zone_urbaine", Input: "corine", SRID: 2154, Type: MultiPolygon},
		&UnionAll{Output: "departement", Input: "commune", SRID: 2154, Type: MultiPolygon},
	}

	err := Run(context.Background(), store, steps)

	require.Error(t, err)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "union(zone_urbaine)", stepErr.Step)
	// The second step never ran.
	assert.Empty(t, store.executed)
}

func TestRunForce2DUsesTransaction(t *testing.T) {
	store := newFakeStore(2154, "troncon")
	steps := []Step{
		&Force2D{Relation: "troncon", Type: MultiLineString, SRID: 2154},
	}

	require.NoError(t, Run(context.Background(), store, steps))
	require.Len(t, store.txBatches, 1)
	assert.Len(t, store.txBatches[0], 5)
	assert.Empty(t, store.executed)
}

func TestRunForce2DFailureIsSchemaTransition(t *testing.T) {
	store := newFakeStore(2154, "troncon")
	store.execErr = map[string]error{"ST_Force2D": errors.New("out of memory")}
	steps := []Step{
		&Force2D{Relation: "troncon", Type: MultiLineString, SRID: 2154},
	}

	err := Run(context.Background(), store, steps)

	var transition *SchemaTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, "troncon", transition.Relation)
	assert.Empty(t, store.txBatches)
}

func TestClassify(t *testing.T) {
	t.Run("duplicate table", func(t *testing.T) {
		err := classify("union(out)", &pgconn.PgError{Code: "42P07", TableName: "out"})
		var collision *NameCollisionError
		require.ErrorAs(t, err, &collision)
		assert.Equal(t, "out", collision.Relation)
	})

	t.Run("undefined table", func(t *testing.T) {
		err := classify("clip(out)", &pgconn.PgError{Code: "42P01", TableName: "corine"})
		var missing *MissingInputError
		require.ErrorAs(t, err, &missing)
	})

	t.Run("lwgeom internal error", func(t *testing.T) {
		err := classify("dissolve(out)", &pgconn.PgError{Code: "XX000", Message: "lwgeom_union failed"})
		var invalid *InvalidGeometryError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("anything else stays a step error", func(t *testing.T) {
		err := classify("union(out)", errors.New("connection reset"))
		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
	})
}

func TestCommuneStepsOrdering(t *testing.T) {
	steps := CommuneSteps("67", 2154, 7.5)
	require.NoError(t, CheckOrder(steps, BaseRelations()))

	outputs := make([]string, 0, len(steps))
	for _, step := range steps {
		if out := step.OutputRelation(); out != "" {
			outputs = append(outputs, out)
		}
	}
	assert.ElementsMatch(t, DerivedRelations(), outputs)
}
