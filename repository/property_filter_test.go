package repository

import (
	"testing"
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dryRunDB renders SQL without a server
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=evoteli dbname=evoteli sslmode=disable",
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Discard,
	})
	require.NoError(t, err)
	return db
}

func filterSQL(t *testing.T, spec models.FilterSpec, now time.Time) string {
	db := dryRunDB(t)
	return db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var out []models.Property
		return ApplyFilterSpec(tx.Model(&models.Property{}), spec, now).
			Order(OrderClause(spec)).
			Find(&out)
	})
}

func TestApplyFilterSpec_EmptySpecHasNoJoins(t *testing.T) {
	sql := filterSQL(t, models.FilterSpec{}, time.Now())
	assert.NotContains(t, sql, "JOIN")
	assert.NotContains(t, sql, "WHERE")
	assert.Contains(t, sql, "ORDER BY properties.updated_at DESC, properties.id DESC")
}

func TestApplyFilterSpec_LocationAndAnalyses(t *testing.T) {
	spec := models.FilterSpec{
		City:          utils.ToPtr(" Austin "),
		State:         utils.ToPtr("tx"),
		Bounds:        []float64{-98, 30, -97, 31},
		RoofCondition: []models.Condition{models.ConditionPoor, models.ConditionFair},
		SolarScoreMin: utils.ToPtr(70),
	}
	sql := filterSQL(t, spec, time.Now())

	assert.Contains(t, sql, "JOIN roofiq_analyses ON roofiq_analyses.property_id = properties.id")
	assert.Contains(t, sql, "JOIN solarfit_analyses ON solarfit_analyses.property_id = properties.id")
	assert.NotContains(t, sql, "LEFT JOIN")
	assert.NotContains(t, sql, "drivewaypro_analyses")
	assert.Contains(t, sql, "LOWER(properties.city) = LOWER('Austin')")
	assert.Contains(t, sql, "properties.state = 'TX'")
	assert.Contains(t, sql, "roofiq_analyses.condition IN ('poor','fair')")
	assert.Contains(t, sql, "solarfit_analyses.score >= 70")
	assert.Contains(t, sql, "properties.longitude >= -98")
}

func TestApplyFilterSpec_SortOnlyAnalysisIsLeftJoined(t *testing.T) {
	spec := models.FilterSpec{SortBy: utils.ToPtr(models.SortBySolarScore), SortOrder: utils.ToPtr(models.SortOrderAsc)}
	sql := filterSQL(t, spec, time.Now())

	assert.Contains(t, sql, "LEFT JOIN solarfit_analyses")
	assert.Contains(t, sql, "ORDER BY solarfit_analyses.score ASC NULLS LAST, properties.id ASC")
}

func TestApplyFilterSpec_PermitWindowIsAnchoredOnNow(t *testing.T) {
	now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	sql := filterSQL(t, models.FilterSpec{PermitActivityDays: utils.ToPtr(30)}, now)

	assert.Contains(t, sql, "JOIN permitscope_analyses")
	assert.Contains(t, sql, "permitscope_analyses.last_permit_date >= '2025-03-01 12:00:00")
}

func TestOrderClause(t *testing.T) {
	assert.Equal(t, "properties.updated_at ASC, properties.id ASC",
		OrderClause(models.FilterSpec{SortOrder: utils.ToPtr(models.SortOrderAsc)}))
	assert.Equal(t, "roofiq_analyses.age_years DESC NULLS LAST, properties.id DESC",
		OrderClause(models.FilterSpec{SortBy: utils.ToPtr(models.SortByRoofAge)}))
}
