package pipeline

// Base relations created by the loader.
const (
	RelationCommune       = "commune"
	RelationCorine        = "corine"
	RelationTroncon       = "troncon"
	RelationEquipementIGN = "equipement_ign"
	RelationEquipementOSM = "equipement_osm"
)

// Relations materialized by the commune pipeline, in creation order.
const (
	RelationDepartement          = "departement"
	RelationCorineCommune        = "corine_commune"
	RelationTronconCommune       = "troncon_commune"
	RelationTronconBuffer        = "troncon_buffer"
	RelationZoneUrbaine          = "zone_urbaine"
	RelationTronconUrbain        = "troncon_urbain"
	RelationTronconUrbainCommune = "troncon_urbain_commune"
	RelationEquipement           = "equipement"
	RelationEspaceVoiture        = "espace_voiture"
	RelationEspaceVoitureCommune = "espace_voiture_commune"
)

// BaseRelations lists the relations the loader must have created before the
// commune pipeline can run.
func BaseRelations() []string {
	return []string{
		RelationCommune,
		RelationCorine,
		RelationTroncon,
		RelationEquipementIGN,
		RelationEquipementOSM,
	}
}

// DerivedRelations lists every relation the commune pipeline creates, so
// callers can drop them before a fresh run.
func DerivedRelations() []string {
	return []string{
		RelationDepartement,
		RelationCorineCommune,
		RelationTronconCommune,
		RelationTronconBuffer,
		RelationZoneUrbaine,
		RelationTronconUrbain,
		RelationTronconUrbainCommune,
		RelationEquipement,
		RelationEspaceVoiture,
		RelationEspaceVoitureCommune,
	}
}

// CommuneSteps is the ordered step list of the commune land-use study for
// one departement: artificialized land cover, road network and the
// dissolved "car space" (roads buffered to their right of way, merged with
// transport equipment), each clipped per commune so the report can group by
// INSEE code.
func CommuneSteps(departement string, srid int, bufferDistance float64) []Step {
	prefix := departement + "%"

	return []Step{
		// BD TOPO road segments carry Z; flatten before any overlay.
		&Force2D{Relation: RelationTroncon, Type: MultiLineString, SRID: srid},

		&UnionWhereLike{
			Output:    RelationDepartement,
			Input:     RelationCommune,
			KeyColumn: "insee_com",
			Pattern:   prefix,
			SRID:      srid,
			Type:      MultiPolygon,
		},

		&Clip{
			Output:      RelationCorineCommune,
			Left:        RelationCommune,
			Right:       RelationCorine,
			KeepDims:    2,
			LeftColumns: []string{"insee_com"},
			RightColumns: []string{
				"classe",
			},
		},
		&Clip{
			Output:      RelationTronconCommune,
			Left:        RelationCommune,
			Right:       RelationTroncon,
			KeepDims:    1,
			LeftColumns: []string{"insee_com"},
		},

		&Buffer{
			Output:   RelationTronconBuffer,
			Input:    RelationTroncon,
			Distance: bufferDistance,
			SRID:     srid,
		},

		// One-row urban mask; clipping roads against it instead of the raw
		// land-cover polygons avoids duplicated pieces where classes touch.
		&UnionAll{
			Output: RelationZoneUrbaine,
			Input:  RelationCorine,
			SRID:   srid,
			Type:   MultiPolygon,
		},
		&Clip{
			Output:   RelationTronconUrbain,
			Left:     RelationZoneUrbaine,
			Right:    RelationTroncon,
			KeepDims: 1,
		},
		&Clip{
			Output:      RelationTronconUrbainCommune,
			Left:        RelationCommune,
			Right:       RelationTronconUrbain,
			KeepDims:    1,
			LeftColumns: []string{"insee_com"},
		},

		&DissolveCluster{
			Output: RelationEquipement,
			InputA: RelationEquipementIGN,
			InputB: RelationEquipementOSM,
			SRID:   srid,
		},
		&DissolveCluster{
			Output: RelationEspaceVoiture,
			InputA: RelationEquipement,
			InputB: RelationTronconBuffer,
			SRID:   srid,
		},
		&Clip{
			Output:      RelationEspaceVoitureCommune,
			Left:        RelationCommune,
			Right:       RelationEspaceVoiture,
			KeepDims:    2,
			LeftColumns: []string{"insee_com"},
		},
	}
}
