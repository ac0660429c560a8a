package pipeline

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Store is the slice of the spatial database the runner needs. It is
// satisfied by *database.Store and by test doubles.
type Store interface {
	Exec(ctx context.Context, sql string) error
	ExecTx(ctx context.Context, stmts []string) error
	RelationExists(ctx context.Context, relation string) (bool, error)
	SRID(ctx context.Context, relation string) (int, error)
	CreateSpatialIndex(ctx context.Context, relation string) error
}

// CheckOrder validates a step sequence before anything runs: parameters are
// well formed, no two steps create the same relation, and every input is
// either one of the base relations or the output of an earlier step.
func CheckOrder(steps []Step, base []string) error {
	known := make(map[string]bool, len(base)+len(steps))
	for _, relation := range base {
		known[relation] = true
	}

	for _, step := range steps {
		if err := step.Validate(); err != nil {
			return &StepError{Step: name(step), Cause: err}
		}

		for _, input := range step.InputRelations() {
			if !known[input] {
				return &MissingInputError{Step: name(step), Relation: input}
			}
		}

		if output := step.OutputRelation(); output != "" {
			if known[output] {
				return &NameCollisionError{Step: name(step), Relation: output}
			}
			known[output] = true
		}
	}

	return nil
}

// Run executes the steps strictly in order and stops on the first failure.
// Already-created relations are not rolled back; re-running a pipeline whose
// outputs still exist fails with a NameCollisionError on the first colliding
// step before any statement runs.
func Run(ctx context.Context, store Store, steps []Step) error {
	for _, step := range steps {
		if err := runStep(ctx, store, step); err != nil {
			return err
		}
	}

	return nil
}

func runStep(ctx context.Context, store Store, step Step) error {
	stepName := name(step)

	if err := step.Validate(); err != nil {
		return &StepError{Step: stepName, Cause: err}
	}

	inputs := step.InputRelations()
	for _, input := range inputs {
		exists, err := store.RelationExists(ctx, input)
		if err != nil {
			return &StepError{Step: stepName, Cause: err}
		}
		if !exists {
			return &MissingInputError{Step: stepName, Relation: input}
		}
	}

	if err := checkSRIDs(ctx, store, stepName, inputs); err != nil {
		return err
	}

	output := step.OutputRelation()
	if output != "" {
		exists, err := store.RelationExists(ctx, output)
		if err != nil {
			return &StepError{Step: stepName, Cause: err}
		}
		if exists {
			return &NameCollisionError{Step: stepName, Relation: output}
		}
	}

	start := time.Now()

	if step.Transactional() {
		if err := store.ExecTx(ctx, step.Statements()); err != nil {
			return &SchemaTransitionError{Step: stepName, Relation: inputs[0], Cause: err}
		}
	} else {
		for _, stmt := range step.Statements() {
			if err := store.Exec(ctx, stmt); err != nil {
				return classify(stepName, err)
			}
		}
	}

	if output != "" {
		if err := store.CreateSpatialIndex(ctx, output); err != nil {
			return &StepError{Step: stepName, Cause: err}
		}
	}

	log.Infof("Step %s done in %v", stepName, time.Since(start))
	return nil
}

// checkSRIDs rejects steps whose input relations do not share one SRID. The
// underlying engine would produce an error of its own eventually, but the
// explicit check reports the problem before any relation is created.
func checkSRIDs(ctx context.Context, store Store, stepName string, inputs []string) error {
	if len(inputs) < 2 {
		return nil
	}

	first, err := store.SRID(ctx, inputs[0])
	if err != nil {
		return &StepError{Step: stepName, Cause: err}
	}
	for _, input := range inputs[1:] {
		srid, err := store.SRID(ctx, input)
		if err != nil {
			return &StepError{Step: stepName, Cause: err}
		}
		if srid != first {
			return &InvalidGeometryError{Step: stepName,
				Cause: sridMismatch{a: inputs[0], aSRID: first, b: input, bSRID: srid}}
		}
	}

	return nil
}

type sridMismatch struct {
	a, b         string
	aSRID, bSRID int
}

func (e sridMismatch) Error() string {
	return fmt.Sprintf("input relations do not share the same SRID (%s: %d, %s: %d)",
		e.a, e.aSRID, e.b, e.bSRID)
}
