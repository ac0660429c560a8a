package handlers

import (
	"context"
	"fmt"
	"regexp"

	"github.com/danielgtaylor/huma/v2"

	"communestat/database"
	"communestat/report"
	"communestat/settings"
)

var departementPattern = regexp.MustCompile(`^[0-9][0-9AB]$`)

type ReportInput struct {
	Departement string `path:"departement" example:"67" doc:"Departement code scoping the report"`
}

type ReportResult struct {
	Body struct {
		Departement string       `json:"departement" doc:"Departement the report covers"`
		Columns     []string     `json:"columns" doc:"Aggregate columns, in report order"`
		Communes    []report.Row `json:"communes" doc:"One row per commune; null values mean no contribution, not zero"`
	}
}

// ReportHandler runs the commune report for one departement against the
// relations the pipeline materialized.
func ReportHandler(config settings.Config) func(ctx context.Context, input *ReportInput) (*ReportResult, error) {
	return func(ctx context.Context, input *ReportInput) (*ReportResult, error) {
		if !departementPattern.MatchString(input.Departement) {
			return nil, huma.Error400BadRequest(
				fmt.Sprintf("'%s' is not a departement code", input.Departement))
		}

		store, err := database.NewStore(config.Database)
		if err != nil {
			return nil, huma.Error503ServiceUnavailable(fmt.Sprintf("%v", err))
		}

		spec := report.CommuneReport(input.Departement)
		rows, err := report.Assemble(ctx, store, spec)
		if err != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("%v", err))
		}

		reportResult := &ReportResult{}
		reportResult.Body.Departement = input.Departement
		reportResult.Body.Columns = spec.Columns()
		reportResult.Body.Communes = rows

		return reportResult, nil
	}
}
