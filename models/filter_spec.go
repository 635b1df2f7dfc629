package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// FilterSpecVersion is written into every persisted FilterSpec
const FilterSpecVersion = 1

// Sort fields accepted by FilterSpec.SortBy
const (
	SortByUpdatedAt  = "updated_at"
	SortBySolarScore = "solar_score"
	SortByRoofAge    = "roof_age"
)

// Sort orders accepted by FilterSpec.SortOrder
const (
	SortOrderAsc  = "asc"
	SortOrderDesc = "desc"
)

var (
	ErrInvalidBounds    = errors.New("bounds must be [west, south, east, north] with west<=east and south<=north")
	ErrInvalidTerritory = errors.New("territory must be a GeoJSON Polygon or MultiPolygon")
	ErrInvalidRange     = errors.New("range minimum exceeds maximum")
)

// FilterSpec is a declarative predicate over the property corpus. Absent
// fields impose no constraint; present fields are combined with AND.
type FilterSpec struct {
	Version int `json:"version,omitempty"`

	// Location
	City      *string         `json:"city,omitempty" validate:"omitempty,max=100"`
	State     *string         `json:"state,omitempty" validate:"omitempty,len=2"`
	Zip       *string         `json:"zip,omitempty" validate:"omitempty,max=10"`
	County    *string         `json:"county,omitempty" validate:"omitempty,max=100"`
	Bounds    []float64       `json:"bounds,omitempty" validate:"omitempty,len=4"`
	Territory json.RawMessage `json:"territory,omitempty"`

	PropertyType *PropertyType `json:"property_type,omitempty" validate:"omitempty,oneof=residential commercial"`

	// RoofIQ
	RoofCondition   []Condition    `json:"roof_condition,omitempty" validate:"omitempty,dive,oneof=excellent good fair poor"`
	RoofAgeYearsMin *int           `json:"roof_age_years_min,omitempty" validate:"omitempty,min=0"`
	RoofAgeYearsMax *int           `json:"roof_age_years_max,omitempty" validate:"omitempty,min=0"`
	RoofMaterial    []RoofMaterial `json:"roof_material,omitempty" validate:"omitempty,dive,oneof=asphalt metal tile slate wood unknown"`

	// SolarFit
	SolarScoreMin *int     `json:"solar_score_min,omitempty" validate:"omitempty,min=0,max=100"`
	SolarScoreMax *int     `json:"solar_score_max,omitempty" validate:"omitempty,min=0,max=100"`
	PanelCountMin *int     `json:"panel_count_min,omitempty" validate:"omitempty,min=0"`
	ROIYearsMax   *float64 `json:"roi_years_max,omitempty" validate:"omitempty,gte=0"`

	// DrivewayPro
	DrivewayCondition          []Condition `json:"driveway_condition,omitempty" validate:"omitempty,dive,oneof=excellent good fair poor"`
	DrivewaySealingRecommended *bool       `json:"driveway_sealing_recommended,omitempty"`

	// PermitScope
	PermitActivityDays      *int `json:"permit_activity_days,omitempty" validate:"omitempty,min=1"`
	ConstructionActivityMin *int `json:"construction_activity_min,omitempty" validate:"omitempty,min=0,max=100"`

	// Pagination and sort
	Limit     *int    `json:"limit,omitempty" validate:"omitempty,min=1,max=500"`
	Offset    *int    `json:"offset,omitempty" validate:"omitempty,min=0"`
	SortBy    *string `json:"sort_by,omitempty" validate:"omitempty,oneof=updated_at solar_score roof_age"`
	SortOrder *string `json:"sort_order,omitempty" validate:"omitempty,oneof=asc desc"`
}

// Value implements the driver.Valuer interface for FilterSpec
func (s FilterSpec) Value() (driver.Value, error) {
	if s.Version == 0 {
		s.Version = FilterSpecVersion
	}
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for FilterSpec
func (s *FilterSpec) Scan(value any) error {
	if value == nil {
		*s = FilterSpec{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into FilterSpec", value)
	}

	return json.Unmarshal(bytes, s)
}

// Check validates cross-field rules that struct tags cannot express
func (s FilterSpec) Check() error {
	if len(s.Bounds) > 0 {
		if len(s.Bounds) != 4 {
			return ErrInvalidBounds
		}
		west, south, east, north := s.Bounds[0], s.Bounds[1], s.Bounds[2], s.Bounds[3]
		if west > east || south > north {
			return ErrInvalidBounds
		}
	}
	if len(s.Territory) > 0 {
		var geom struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(s.Territory, &geom); err != nil {
			return ErrInvalidTerritory
		}
		if geom.Type != "Polygon" && geom.Type != "MultiPolygon" {
			return ErrInvalidTerritory
		}
	}
	if s.RoofAgeYearsMin != nil && s.RoofAgeYearsMax != nil && *s.RoofAgeYearsMin > *s.RoofAgeYearsMax {
		return fmt.Errorf("roof_age_years: %w", ErrInvalidRange)
	}
	if s.SolarScoreMin != nil && s.SolarScoreMax != nil && *s.SolarScoreMin > *s.SolarScoreMax {
		return fmt.Errorf("solar_score: %w", ErrInvalidRange)
	}
	return nil
}

// PageLimit returns the effective limit (default 100, capped at 500)
func (s FilterSpec) PageLimit() int {
	if s.Limit == nil || *s.Limit <= 0 {
		return 100
	}
	if *s.Limit > 500 {
		return 500
	}
	return *s.Limit
}

// PageOffset returns the effective offset
func (s FilterSpec) PageOffset() int {
	if s.Offset == nil || *s.Offset < 0 {
		return 0
	}
	return *s.Offset
}

// Sort returns the effective sort field and order
func (s FilterSpec) Sort() (string, string) {
	field := SortByUpdatedAt
	if s.SortBy != nil && *s.SortBy != "" {
		field = *s.SortBy
	}
	order := SortOrderDesc
	if s.SortOrder != nil && *s.SortOrder == SortOrderAsc {
		order = SortOrderAsc
	}
	return field, order
}
