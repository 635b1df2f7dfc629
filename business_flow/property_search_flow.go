package businessflow

import (
	"context"

	"github.com/amirphl/evoteli/app/dto"
	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/repository"
	"github.com/amirphl/evoteli/utils"
	"github.com/go-playground/validator/v10"
)

// PropertySearchFlow runs ad-hoc FilterSpec searches
type PropertySearchFlow interface {
	Search(ctx context.Context, req *dto.PropertySearchRequest) (*dto.PropertySearchResponse, error)
}

type PropertySearchFlowImpl struct {
	propertyRepo repository.PropertyRepository
	validator    *validator.Validate
}

func NewPropertySearchFlow(propertyRepo repository.PropertyRepository) PropertySearchFlow {
	return &PropertySearchFlowImpl{propertyRepo: propertyRepo, validator: validator.New()}
}

func (f *PropertySearchFlowImpl) Search(ctx context.Context, req *dto.PropertySearchRequest) (*dto.PropertySearchResponse, error) {
	if _, err := requirePrincipal(ctx, PermissionPropertiesRead); err != nil {
		return nil, err
	}
	if err := validateRequest(f.validator, req); err != nil {
		return nil, err
	}
	if err := validateFilters(req.Filters); err != nil {
		return nil, err
	}

	res, err := f.propertyRepo.Query(ctx, req.Filters, repository.PropertyQueryOptions{
		WithAnalyses: true,
		Now:          utils.UTCNow(),
	})
	if err != nil {
		return nil, NewBusinessError("SEARCH_FAILED", "failed to search properties", err)
	}

	items := make([]dto.PropertyItem, 0, len(res.Records))
	for _, p := range res.Records {
		items = append(items, toPropertyItem(p))
	}
	return &dto.PropertySearchResponse{
		Items:  items,
		Total:  res.Total,
		Limit:  req.Filters.PageLimit(),
		Offset: req.Filters.PageOffset(),
	}, nil
}

func toPropertyItem(p *models.Property) dto.PropertyItem {
	item := dto.PropertyItem{
		ID:           p.ID,
		Address:      p.Address,
		City:         p.City,
		State:        p.State,
		Zip:          p.Zip,
		County:       p.County,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		PropertyType: string(p.PropertyType),
		UpdatedAt:    p.UpdatedAt,
	}
	if p.Roof != nil {
		item.RoofCondition = utils.ToPtr(string(p.Roof.Condition))
		item.RoofAgeYears = p.Roof.AgeYears
	}
	if p.Solar != nil {
		item.SolarScore = utils.ToPtr(p.Solar.Score)
	}
	if p.Driveway != nil {
		item.DrivewayCondition = utils.ToPtr(string(p.Driveway.Condition))
	}
	if p.Permits != nil {
		item.ConstructionScore = p.Permits.ConstructionActivityScore
	}
	return item
}
