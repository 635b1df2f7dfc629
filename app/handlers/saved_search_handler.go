package handlers

import (
	"log"

	"github.com/amirphl/evoteli/app/dto"
	businessflow "github.com/amirphl/evoteli/business_flow"
	"github.com/gofiber/fiber/v3"
)

// SavedSearchHandlerInterface defines the contract for saved search handlers
type SavedSearchHandlerInterface interface {
	Create(c fiber.Ctx) error
	Update(c fiber.Ctx) error
	Delete(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	List(c fiber.Ctx) error
	TestAlert(c fiber.Ctx) error
	Export(c fiber.Ctx) error
}

// SavedSearchHandler handles saved search HTTP requests
type SavedSearchHandler struct {
	flow businessflow.SavedSearchFlow
}

func NewSavedSearchHandler(flow businessflow.SavedSearchFlow) *SavedSearchHandler {
	return &SavedSearchHandler{flow: flow}
}

// Create stores a new saved search for the caller.
// POST /api/v1/saved-searches
func (h *SavedSearchHandler) Create(c fiber.Ctx) error {
	var req dto.CreateSavedSearchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	ctx, cancel := requestContext(c, "/api/v1/saved-searches")
	defer cancel()

	res, err := h.flow.Create(ctx, &req)
	if err != nil {
		log.Println("Saved search creation failed", err)
		return flowError(c, err, "Saved search creation failed", "SAVED_SEARCH_CREATE_FAILED")
	}
	return SuccessResponse(c, fiber.StatusCreated, "Saved search created successfully", res)
}

// Update applies a partial update.
// PUT /api/v1/saved-searches/:id
func (h *SavedSearchHandler) Update(c fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid saved search id", "INVALID_SAVED_SEARCH_ID", nil)
	}

	var req dto.UpdateSavedSearchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	ctx, cancel := requestContext(c, "/api/v1/saved-searches/"+id.String())
	defer cancel()

	res, err := h.flow.Update(ctx, id, &req)
	if err != nil {
		log.Println("Saved search update failed", err)
		return flowError(c, err, "Saved search update failed", "SAVED_SEARCH_UPDATE_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Saved search updated successfully", res)
}

// Delete soft-deletes a saved search.
// DELETE /api/v1/saved-searches/:id
func (h *SavedSearchHandler) Delete(c fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid saved search id", "INVALID_SAVED_SEARCH_ID", nil)
	}

	ctx, cancel := requestContext(c, "/api/v1/saved-searches/"+id.String())
	defer cancel()

	if err := h.flow.Delete(ctx, id); err != nil {
		log.Println("Saved search deletion failed", err)
		return flowError(c, err, "Saved search deletion failed", "SAVED_SEARCH_DELETE_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Saved search deleted successfully", nil)
}

// Get returns a saved search with its recent alert history.
// GET /api/v1/saved-searches/:id
func (h *SavedSearchHandler) Get(c fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid saved search id", "INVALID_SAVED_SEARCH_ID", nil)
	}

	ctx, cancel := requestContext(c, "/api/v1/saved-searches/"+id.String())
	defer cancel()

	res, err := h.flow.Get(ctx, id)
	if err != nil {
		return flowError(c, err, "Failed to retrieve saved search", "SAVED_SEARCH_GET_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Saved search retrieved successfully", res)
}

// List returns the caller's saved searches.
// GET /api/v1/saved-searches?page=&page_size=&include_inactive=
func (h *SavedSearchHandler) List(c fiber.Ctx) error {
	req := dto.ListSavedSearchesRequest{
		PageRequest: dto.PageRequest{
			Page:     queryInt(c, "page", 1),
			PageSize: queryInt(c, "page_size", 20),
		},
		IncludeInactive: c.Query("include_inactive") == "true",
	}

	ctx, cancel := requestContext(c, "/api/v1/saved-searches")
	defer cancel()

	res, err := h.flow.List(ctx, &req)
	if err != nil {
		log.Println("Saved search listing failed", err)
		return flowError(c, err, "Failed to list saved searches", "SAVED_SEARCH_LIST_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Saved searches retrieved successfully", res)
}

// TestAlert queues a one-off alert evaluation.
// POST /api/v1/saved-searches/:id/test-alert
func (h *SavedSearchHandler) TestAlert(c fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid saved search id", "INVALID_SAVED_SEARCH_ID", nil)
	}

	var req dto.TestAlertRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}

	ctx, cancel := requestContext(c, "/api/v1/saved-searches/"+id.String()+"/test-alert")
	defer cancel()

	res, err := h.flow.TriggerTestAlert(ctx, id, &req)
	if err != nil {
		log.Println("Test alert failed", err)
		return flowError(c, err, "Failed to queue test alert", "TEST_ALERT_FAILED")
	}
	return SuccessResponse(c, fiber.StatusAccepted, res.Message, res)
}

// Export downloads the alert history as an xlsx workbook.
// GET /api/v1/saved-searches/:id/export
func (h *SavedSearchHandler) Export(c fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid saved search id", "INVALID_SAVED_SEARCH_ID", nil)
	}

	ctx, cancel := requestContext(c, "/api/v1/saved-searches/"+id.String()+"/export")
	defer cancel()

	file, err := h.flow.ExportAlertHistory(ctx, id)
	if err != nil {
		log.Println("Alert history export failed", err)
		return flowError(c, err, "Failed to export alert history", "ALERT_EXPORT_FAILED")
	}
	return sendFile(c, file)
}

func sendFile(c fiber.Ctx, file *dto.ExportFile) error {
	c.Set(fiber.HeaderContentType, file.ContentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+file.Filename+`"`)
	return c.Status(fiber.StatusOK).Send(file.Content)
}
