package dto

import (
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/google/uuid"
)

// PropertySearchRequest evaluates a FilterSpec with its own pagination
type PropertySearchRequest struct {
	Filters models.FilterSpec `json:"filters"`
}

// PropertyItem is a property with the headline score of each present analysis
type PropertyItem struct {
	ID                uuid.UUID `json:"id"`
	Address           string    `json:"address"`
	City              string    `json:"city"`
	State             string    `json:"state"`
	Zip               string    `json:"zip"`
	County            *string   `json:"county,omitempty"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	PropertyType      string    `json:"property_type"`
	RoofCondition     *string   `json:"roof_condition,omitempty"`
	RoofAgeYears      *int      `json:"roof_age_years,omitempty"`
	SolarScore        *int      `json:"solar_score,omitempty"`
	DrivewayCondition *string   `json:"driveway_condition,omitempty"`
	ConstructionScore *int      `json:"construction_activity_score,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type PropertySearchResponse struct {
	Items  []PropertyItem `json:"items"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}
