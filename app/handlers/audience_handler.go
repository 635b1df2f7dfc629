package handlers

import (
	"log"

	"github.com/amirphl/evoteli/app/dto"
	businessflow "github.com/amirphl/evoteli/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// AudienceHandlerInterface defines the contract for audience handlers
type AudienceHandlerInterface interface {
	Create(c fiber.Ctx) error
	Update(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Sync(c fiber.Ctx) error
	Export(c fiber.Ctx) error
}

// AudienceHandler handles customer-match audience HTTP requests
type AudienceHandler struct {
	flow businessflow.AudienceFlow
}

func NewAudienceHandler(flow businessflow.AudienceFlow) *AudienceHandler {
	return &AudienceHandler{flow: flow}
}

// Create stores an audience and starts its first sync.
// POST /api/v1/audiences
func (h *AudienceHandler) Create(c fiber.Ctx) error {
	var req dto.CreateAudienceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	ctx, cancel := requestContext(c, "/api/v1/audiences")
	defer cancel()

	res, err := h.flow.Create(ctx, &req)
	if err != nil {
		log.Println("Audience creation failed", err)
		return flowError(c, err, "Audience creation failed", "AUDIENCE_CREATE_FAILED")
	}
	return SuccessResponse(c, fiber.StatusCreated, "Audience created successfully", res)
}

// Update changes an audience's filters or sync settings.
// PUT /api/v1/audiences/:id
func (h *AudienceHandler) Update(c fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid audience id", "INVALID_AUDIENCE_ID", nil)
	}

	var req dto.UpdateAudienceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	ctx, cancel := requestContext(c, "/api/v1/audiences/"+id.String())
	defer cancel()

	res, err := h.flow.Update(ctx, id, &req)
	if err != nil {
		log.Println("Audience update failed", err)
		return flowError(c, err, "Audience update failed", "AUDIENCE_UPDATE_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Audience updated successfully", res)
}

// Get returns an audience with its recent sync history.
// GET /api/v1/audiences/:id
func (h *AudienceHandler) Get(c fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid audience id", "INVALID_AUDIENCE_ID", nil)
	}

	ctx, cancel := requestContext(c, "/api/v1/audiences/"+id.String())
	defer cancel()

	res, err := h.flow.Get(ctx, id)
	if err != nil {
		return flowError(c, err, "Failed to retrieve audience", "AUDIENCE_GET_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Audience retrieved successfully", res)
}

// List returns the caller's audiences, optionally for one ads account.
// GET /api/v1/audiences?ads_account_id=&page=&page_size=&include_inactive=
func (h *AudienceHandler) List(c fiber.Ctx) error {
	req := dto.ListAudiencesRequest{
		PageRequest: dto.PageRequest{
			Page:     queryInt(c, "page", 1),
			PageSize: queryInt(c, "page_size", 20),
		},
		IncludeInactive: c.Query("include_inactive") == "true",
	}
	if raw := c.Query("ads_account_id"); raw != "" {
		accountID, err := uuid.Parse(raw)
		if err != nil {
			return ErrorResponse(c, fiber.StatusBadRequest, "Invalid ads account id", "INVALID_ADS_ACCOUNT_ID", nil)
		}
		req.AdsAccountID = &accountID
	}

	ctx, cancel := requestContext(c, "/api/v1/audiences")
	defer cancel()

	res, err := h.flow.List(ctx, &req)
	if err != nil {
		log.Println("Audience listing failed", err)
		return flowError(c, err, "Failed to list audiences", "AUDIENCE_LIST_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Audiences retrieved successfully", res)
}

// Sync queues a manual sync. A sync already in flight yields 409.
// POST /api/v1/audiences/:id/sync
func (h *AudienceHandler) Sync(c fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid audience id", "INVALID_AUDIENCE_ID", nil)
	}

	ctx, cancel := requestContext(c, "/api/v1/audiences/"+id.String()+"/sync")
	defer cancel()

	res, err := h.flow.TriggerSync(ctx, id)
	if err != nil {
		log.Println("Audience sync trigger failed", err)
		return flowError(c, err, "Failed to start sync", "AUDIENCE_SYNC_FAILED")
	}
	return SuccessResponse(c, fiber.StatusAccepted, res.Message, res)
}

// Export downloads the sync history as an xlsx workbook.
// GET /api/v1/audiences/:id/export
func (h *AudienceHandler) Export(c fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid audience id", "INVALID_AUDIENCE_ID", nil)
	}

	ctx, cancel := requestContext(c, "/api/v1/audiences/"+id.String()+"/export")
	defer cancel()

	file, err := h.flow.ExportSyncHistory(ctx, id)
	if err != nil {
		log.Println("Sync history export failed", err)
		return flowError(c, err, "Failed to export sync history", "SYNC_EXPORT_FAILED")
	}
	return sendFile(c, file)
}
