package handlers

import (
	"github.com/amirphl/evoteli/app/dto"
	businessflow "github.com/amirphl/evoteli/business_flow"
	"github.com/gofiber/fiber/v3"
)

// PropertyHandler serves ad-hoc property searches
type PropertyHandler struct {
	flow businessflow.PropertySearchFlow
}

func NewPropertyHandler(flow businessflow.PropertySearchFlow) *PropertyHandler {
	return &PropertyHandler{flow: flow}
}

// Search runs a filter spec against the property store.
// POST /api/v1/properties/search
func (h *PropertyHandler) Search(c fiber.Ctx) error {
	var req dto.PropertySearchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	ctx, cancel := requestContext(c, "/api/v1/properties/search")
	defer cancel()

	res, err := h.flow.Search(ctx, &req)
	if err != nil {
		return flowError(c, err, "Property search failed", "SEARCH_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Properties retrieved successfully", res)
}
