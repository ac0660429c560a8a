package report

import "communestat/pipeline"

// CommuneReport is the per-commune statistics table of the study: area and
// perimeter of artificialized land cover and of the dissolved car space,
// road length overall and within urban areas, all keyed by INSEE code and
// scoped to one departement.
func CommuneReport(departement string) Spec {
	return Spec{
		Base:         pipeline.RelationCommune,
		KeyColumn:    "insee_com",
		LabelColumn:  "nom",
		RegionPrefix: departement,
		Joins: []Join{
			{
				Relation: pipeline.RelationCorineCommune,
				Aggregates: []Aggregate{
					{Kind: AreaSum, Column: "aire_urbain"},
					{Kind: PerimeterSum, Column: "perimetre_urbain"},
				},
			},
			{
				Relation: pipeline.RelationEspaceVoitureCommune,
				Aggregates: []Aggregate{
					{Kind: AreaSum, Column: "aire_voiture"},
					{Kind: PerimeterSum, Column: "perimetre_voiture"},
				},
			},
			{
				Relation: pipeline.RelationTronconCommune,
				Aggregates: []Aggregate{
					{Kind: LengthSum, Column: "longueur_troncon"},
				},
			},
			{
				Relation: pipeline.RelationTronconUrbainCommune,
				Aggregates: []Aggregate{
					{Kind: LengthSum, Column: "longueur_troncon_urbain"},
				},
			},
		},
	}
}
