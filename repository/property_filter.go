package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/evoteli/models"
	"gorm.io/gorm"
)

const (
	joinRoof     = "JOIN roofiq_analyses ON roofiq_analyses.property_id = properties.id"
	joinSolar    = "JOIN solarfit_analyses ON solarfit_analyses.property_id = properties.id"
	joinDriveway = "JOIN drivewaypro_analyses ON drivewaypro_analyses.property_id = properties.id"
	joinPermits  = "JOIN permitscope_analyses ON permitscope_analyses.property_id = properties.id"
)

// analysisJoins records which analysis tables a spec needs. A table that is
// constrained is inner joined; one that is only sorted on is left joined so
// records without that analysis still match.
type analysisJoins struct {
	roof, solar, driveway, permits bool
	roofSortOnly, solarSortOnly    bool
}

func joinsFor(spec models.FilterSpec) analysisJoins {
	var j analysisJoins
	j.roof = len(spec.RoofCondition) > 0 || spec.RoofAgeYearsMin != nil ||
		spec.RoofAgeYearsMax != nil || len(spec.RoofMaterial) > 0
	j.solar = spec.SolarScoreMin != nil || spec.SolarScoreMax != nil ||
		spec.PanelCountMin != nil || spec.ROIYearsMax != nil
	j.driveway = len(spec.DrivewayCondition) > 0 || spec.DrivewaySealingRecommended != nil
	j.permits = spec.PermitActivityDays != nil || spec.ConstructionActivityMin != nil

	switch field, _ := spec.Sort(); field {
	case models.SortBySolarScore:
		j.solarSortOnly = !j.solar
	case models.SortByRoofAge:
		j.roofSortOnly = !j.roof
	}
	return j
}

// ApplyFilterSpec narrows a query rooted at the properties table by every
// present constraint of spec. now anchors permit_activity_days.
func ApplyFilterSpec(db *gorm.DB, spec models.FilterSpec, now time.Time) *gorm.DB {
	j := joinsFor(spec)
	switch {
	case j.roof:
		db = db.Joins(joinRoof)
	case j.roofSortOnly:
		db = db.Joins("LEFT " + joinRoof)
	}
	switch {
	case j.solar:
		db = db.Joins(joinSolar)
	case j.solarSortOnly:
		db = db.Joins("LEFT " + joinSolar)
	}
	if j.driveway {
		db = db.Joins(joinDriveway)
	}
	if j.permits {
		db = db.Joins(joinPermits)
	}

	// Location
	if spec.City != nil && *spec.City != "" {
		db = db.Where("LOWER(properties.city) = LOWER(?)", strings.TrimSpace(*spec.City))
	}
	if spec.State != nil && *spec.State != "" {
		db = db.Where("properties.state = ?", strings.ToUpper(strings.TrimSpace(*spec.State)))
	}
	if spec.Zip != nil && *spec.Zip != "" {
		db = db.Where("properties.zip = ?", strings.TrimSpace(*spec.Zip))
	}
	if spec.County != nil && *spec.County != "" {
		db = db.Where("LOWER(properties.county) = LOWER(?)", strings.TrimSpace(*spec.County))
	}
	if len(spec.Bounds) == 4 {
		west, south, east, north := spec.Bounds[0], spec.Bounds[1], spec.Bounds[2], spec.Bounds[3]
		db = db.Where("properties.longitude >= ? AND properties.longitude <= ? AND properties.latitude >= ? AND properties.latitude <= ?",
			west, east, south, north)
	}
	if len(spec.Territory) > 0 {
		db = db.Where("ST_Intersects(properties.geometry, ST_SetSRID(ST_GeomFromGeoJSON(?), 4326))", string(spec.Territory))
	}
	if spec.PropertyType != nil && *spec.PropertyType != "" {
		db = db.Where("properties.property_type = ?", string(*spec.PropertyType))
	}

	// RoofIQ
	if len(spec.RoofCondition) > 0 {
		db = db.Where("roofiq_analyses.condition IN ?", conditionStrings(spec.RoofCondition))
	}
	if spec.RoofAgeYearsMin != nil {
		db = db.Where("roofiq_analyses.age_years >= ?", *spec.RoofAgeYearsMin)
	}
	if spec.RoofAgeYearsMax != nil {
		db = db.Where("roofiq_analyses.age_years <= ?", *spec.RoofAgeYearsMax)
	}
	if len(spec.RoofMaterial) > 0 {
		materials := make([]string, 0, len(spec.RoofMaterial))
		for _, m := range spec.RoofMaterial {
			materials = append(materials, string(m))
		}
		db = db.Where("roofiq_analyses.material IN ?", materials)
	}

	// SolarFit
	if spec.SolarScoreMin != nil {
		db = db.Where("solarfit_analyses.score >= ?", *spec.SolarScoreMin)
	}
	if spec.SolarScoreMax != nil {
		db = db.Where("solarfit_analyses.score <= ?", *spec.SolarScoreMax)
	}
	if spec.PanelCountMin != nil {
		db = db.Where("solarfit_analyses.panel_count >= ?", *spec.PanelCountMin)
	}
	if spec.ROIYearsMax != nil {
		db = db.Where("solarfit_analyses.roi_years <= ?", *spec.ROIYearsMax)
	}

	// DrivewayPro
	if len(spec.DrivewayCondition) > 0 {
		db = db.Where("drivewaypro_analyses.condition IN ?", conditionStrings(spec.DrivewayCondition))
	}
	if spec.DrivewaySealingRecommended != nil {
		db = db.Where("drivewaypro_analyses.sealing_recommended = ?", *spec.DrivewaySealingRecommended)
	}

	// PermitScope
	if spec.PermitActivityDays != nil {
		since := now.UTC().AddDate(0, 0, -*spec.PermitActivityDays)
		db = db.Where("permitscope_analyses.last_permit_date >= ?", since)
	}
	if spec.ConstructionActivityMin != nil {
		db = db.Where("permitscope_analyses.construction_activity_score >= ?", *spec.ConstructionActivityMin)
	}

	return db
}

// OrderClause returns the deterministic ORDER BY of a spec; id breaks ties
func OrderClause(spec models.FilterSpec) string {
	field, order := spec.Sort()
	dir := "DESC"
	if order == models.SortOrderAsc {
		dir = "ASC"
	}

	var column string
	switch field {
	case models.SortBySolarScore:
		column = "solarfit_analyses.score"
	case models.SortByRoofAge:
		column = "roofiq_analyses.age_years"
	default:
		column = "properties.updated_at"
	}
	if column == "properties.updated_at" {
		return fmt.Sprintf("%s %s, properties.id %s", column, dir, dir)
	}
	return fmt.Sprintf("%s %s NULLS LAST, properties.id %s", column, dir, dir)
}

func conditionStrings(in []models.Condition) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		out = append(out, string(c))
	}
	return out
}
