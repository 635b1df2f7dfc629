package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// PropertyOptions controls the analyses attached by CreateTestProperty
type PropertyOptions struct {
	City          string
	State         string
	Zip           string
	Latitude      float64
	Longitude     float64
	RoofCondition *models.Condition
	RoofAgeYears  *int
	SolarScore    *int
	UpdatedAt     time.Time
}

// CreateTestProperty inserts a property and the requested analyses
func (tf *TestFixtures) CreateTestProperty(opts PropertyOptions) (*models.Property, error) {
	if opts.City == "" {
		opts.City = "Austin"
	}
	if opts.State == "" {
		opts.State = "TX"
	}
	if opts.Zip == "" {
		opts.Zip = "78701"
	}
	if opts.Latitude == 0 && opts.Longitude == 0 {
		opts.Latitude, opts.Longitude = 30.2672, -97.7431
	}
	if opts.UpdatedAt.IsZero() {
		opts.UpdatedAt = utils.UTCNow()
	}

	p := &models.Property{
		Address:      fmt.Sprintf("%d Test Street", rand.Intn(9000)+100),
		City:         opts.City,
		State:        opts.State,
		Zip:          opts.Zip,
		Latitude:     opts.Latitude,
		Longitude:    opts.Longitude,
		PropertyType: models.PropertyTypeResidential,
		CreatedAt:    opts.UpdatedAt,
		UpdatedAt:    opts.UpdatedAt,
	}
	if err := tf.DB.DB.Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to create test property: %w", err)
	}

	if opts.RoofCondition != nil || opts.RoofAgeYears != nil {
		cond := models.ConditionGood
		if opts.RoofCondition != nil {
			cond = *opts.RoofCondition
		}
		roof := &models.RoofAnalysis{
			PropertyID: p.ID,
			Condition:  cond,
			AgeYears:   opts.RoofAgeYears,
			Material:   models.RoofMaterialAsphalt,
			AnalyzedAt: opts.UpdatedAt,
		}
		if err := tf.DB.DB.Create(roof).Error; err != nil {
			return nil, fmt.Errorf("failed to create roof analysis: %w", err)
		}
		p.Roof = roof
	}
	if opts.SolarScore != nil {
		solar := &models.SolarAnalysis{
			PropertyID: p.ID,
			Score:      *opts.SolarScore,
			AnalyzedAt: opts.UpdatedAt,
		}
		if err := tf.DB.DB.Create(solar).Error; err != nil {
			return nil, fmt.Errorf("failed to create solar analysis: %w", err)
		}
		p.Solar = solar
	}

	return p, nil
}

// CreateTestContact attaches an owner-scoped contact to a property
func (tf *TestFixtures) CreateTestContact(ownerID, propertyID uuid.UUID, email string) (*models.PropertyContact, error) {
	c := &models.PropertyContact{
		OwnerID:     ownerID,
		PropertyID:  propertyID,
		Email:       utils.ToPtr(email),
		FirstName:   utils.ToPtr("John"),
		LastName:    utils.ToPtr("Doe"),
		PostalCode:  utils.ToPtr("78701"),
		CountryCode: "US",
	}
	if err := tf.DB.DB.Create(c).Error; err != nil {
		return nil, fmt.Errorf("failed to create test contact: %w", err)
	}
	return c, nil
}

// CreateTestSavedSearch inserts an active daily saved search
func (tf *TestFixtures) CreateTestSavedSearch(ownerID uuid.UUID, filters models.FilterSpec) (*models.SavedSearch, error) {
	s := &models.SavedSearch{
		OwnerID:        ownerID,
		Name:           "Test search",
		Filters:        filters,
		AlertsEnabled:  true,
		AlertFrequency: models.AlertFrequencyDaily,
		AlertEmail:     utils.ToPtr(fmt.Sprintf("owner.%s@example.com", ownerID.String()[:8])),
		AlertTime:      utils.DefaultAlertHour,
		IsActive:       true,
	}
	if err := tf.DB.DB.Create(s).Error; err != nil {
		return nil, fmt.Errorf("failed to create test saved search: %w", err)
	}
	return s, nil
}

// CreateTestAdsAccount inserts a connected account with an unexpired token
func (tf *TestFixtures) CreateTestAdsAccount(ownerID uuid.UUID) (*models.AdsAccount, error) {
	now := utils.UTCNow()
	a := &models.AdsAccount{
		OwnerID:        ownerID,
		CustomerID:     fmt.Sprintf("%010d", rand.Int63n(9000000000)+1000000000),
		Status:         models.AdsAccountStatusConnected,
		IsActive:       true,
		AccessToken:    "access-token",
		RefreshToken:   "refresh-token",
		TokenExpiresAt: utils.ToPtr(now.Add(time.Hour)),
		ConnectedAt:    &now,
	}
	if err := tf.DB.DB.Create(a).Error; err != nil {
		return nil, fmt.Errorf("failed to create test ads account: %w", err)
	}
	return a, nil
}

// CreateTestAudience inserts an auto-syncing audience on account
func (tf *TestFixtures) CreateTestAudience(account *models.AdsAccount, filters models.FilterSpec) (*models.Audience, error) {
	a := &models.Audience{
		OwnerID:      account.OwnerID,
		AdsAccountID: account.ID,
		Name:         "Test audience",
		Filters:      filters,
		AutoSync:     true,
		IsActive:     true,
	}
	if err := tf.DB.DB.Create(a).Error; err != nil {
		return nil, fmt.Errorf("failed to create test audience: %w", err)
	}
	return a, nil
}
