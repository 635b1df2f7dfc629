package models

import (
	"time"

	"github.com/google/uuid"
)

// PropertyType classifies a property record
type PropertyType string

const (
	PropertyTypeResidential PropertyType = "residential"
	PropertyTypeCommercial  PropertyType = "commercial"
)

// Valid checks if the property type is valid
func (t PropertyType) Valid() bool {
	return t == PropertyTypeResidential || t == PropertyTypeCommercial
}

// Condition is the shared condition scale of roof and driveway analyses
type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
)

// Valid checks if the condition is valid
func (c Condition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor:
		return true
	default:
		return false
	}
}

// RoofMaterial is the detected roofing material
type RoofMaterial string

const (
	RoofMaterialAsphalt RoofMaterial = "asphalt"
	RoofMaterialMetal   RoofMaterial = "metal"
	RoofMaterialTile    RoofMaterial = "tile"
	RoofMaterialSlate   RoofMaterial = "slate"
	RoofMaterialWood    RoofMaterial = "wood"
	RoofMaterialUnknown RoofMaterial = "unknown"
)

// Valid checks if the material is valid
func (m RoofMaterial) Valid() bool {
	switch m {
	case RoofMaterialAsphalt, RoofMaterialMetal, RoofMaterialTile,
		RoofMaterialSlate, RoofMaterialWood, RoofMaterialUnknown:
		return true
	default:
		return false
	}
}

// Property is one record of the property corpus. The corpus is written by
// ingestion pipelines; this service only reads it.
// Table: properties
// The PostGIS geometry column is not mapped and is only referenced by SQL predicates.
type Property struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Address      string       `gorm:"size:500;not null" json:"address"`
	City         string       `gorm:"size:100;not null;index:idx_properties_city" json:"city"`
	State        string       `gorm:"size:2;not null;index:idx_properties_state" json:"state"`
	Zip          string       `gorm:"size:10;not null;index:idx_properties_zip" json:"zip"`
	County       *string      `gorm:"size:100" json:"county,omitempty"`
	Latitude     float64      `gorm:"not null" json:"latitude"`
	Longitude    float64      `gorm:"not null" json:"longitude"`
	PropertyType PropertyType `gorm:"size:20;not null;default:'residential'" json:"property_type"`
	CreatedAt    time.Time    `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null;index:idx_properties_updated_at" json:"updated_at"`

	// Relations
	Roof     *RoofAnalysis     `gorm:"foreignKey:PropertyID;references:ID" json:"roof,omitempty"`
	Solar    *SolarAnalysis    `gorm:"foreignKey:PropertyID;references:ID" json:"solar,omitempty"`
	Driveway *DrivewayAnalysis `gorm:"foreignKey:PropertyID;references:ID" json:"driveway,omitempty"`
	Permits  *PermitAnalysis   `gorm:"foreignKey:PropertyID;references:ID" json:"permits,omitempty"`
}

func (Property) TableName() string { return "properties" }

// RoofAnalysis is the roof assessment attached to a property
type RoofAnalysis struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PropertyID    uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:uk_roofiq_analyses_property_id" json:"property_id"`
	Condition     Condition    `gorm:"size:20;not null" json:"condition"`
	Confidence    float64      `gorm:"not null;default:0" json:"confidence"`
	AgeYears      *int         `json:"age_years,omitempty"`
	Material      RoofMaterial `gorm:"size:20;not null;default:'unknown'" json:"material"`
	AreaSqft      *float64     `json:"area_sqft,omitempty"`
	CostLow       *float64     `json:"cost_low,omitempty"`
	CostHigh      *float64     `json:"cost_high,omitempty"`
	Score         *int         `json:"score,omitempty"`
	AnalyzedAt    time.Time    `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"analyzed_at"`
	ModelVersion  *string      `gorm:"size:50" json:"model_version,omitempty"`
	ImagerySource *string      `gorm:"size:50" json:"imagery_source,omitempty"`
}

func (RoofAnalysis) TableName() string { return "roofiq_analyses" }

// SolarAnalysis is the solar suitability assessment attached to a property
type SolarAnalysis struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PropertyID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_solarfit_analyses_property_id" json:"property_id"`
	Score              int       `gorm:"not null" json:"score"`
	Confidence         float64   `gorm:"not null;default:0" json:"confidence"`
	AnnualKWhPotential *float64  `gorm:"column:annual_kwh_potential" json:"annual_kwh_potential,omitempty"`
	PanelCount         *int      `json:"panel_count,omitempty"`
	SystemSizeKW       *float64  `gorm:"column:system_size_kw" json:"system_size_kw,omitempty"`
	ROIYears           *float64  `gorm:"column:roi_years" json:"roi_years,omitempty"`
	AnnualSavings      *float64  `json:"annual_savings,omitempty"`
	AnalyzedAt         time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"analyzed_at"`
}

func (SolarAnalysis) TableName() string { return "solarfit_analyses" }

// DrivewayAnalysis is the driveway assessment attached to a property
type DrivewayAnalysis struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PropertyID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_drivewaypro_analyses_property_id" json:"property_id"`
	Condition          Condition `gorm:"size:20;not null" json:"condition"`
	ConditionScore     *int      `json:"condition_score,omitempty"`
	SurfaceType        *string   `gorm:"size:50" json:"surface_type,omitempty"`
	SealingRecommended bool      `gorm:"not null;default:false" json:"sealing_recommended"`
	AnalyzedAt         time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"analyzed_at"`
}

func (DrivewayAnalysis) TableName() string { return "drivewaypro_analyses" }

// PermitAnalysis summarizes building permit activity around a property
type PermitAnalysis struct {
	ID                        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PropertyID                uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_permitscope_analyses_property_id" json:"property_id"`
	TotalPermits              int        `gorm:"not null;default:0" json:"total_permits"`
	LastPermitDate            *time.Time `json:"last_permit_date,omitempty"`
	ConstructionActivityScore *int       `json:"construction_activity_score,omitempty"`
	AnalyzedAt                time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"analyzed_at"`
}

func (PermitAnalysis) TableName() string { return "permitscope_analyses" }

// PropertyFilter provides simple equality filters for repository listing
type PropertyFilter struct {
	ID            *uuid.UUID
	City          *string
	State         *string
	Zip           *string
	UpdatedAfter  *time.Time
	UpdatedBefore *time.Time
}
