package handlers

import (
	"log"

	"github.com/amirphl/evoteli/app/dto"
	businessflow "github.com/amirphl/evoteli/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// AdsAccountHandler handles the OAuth link flow and linked accounts
type AdsAccountHandler struct {
	flow businessflow.AdsAccountFlow
}

func NewAdsAccountHandler(flow businessflow.AdsAccountFlow) *AdsAccountHandler {
	return &AdsAccountHandler{flow: flow}
}

// AuthURL returns the consent URL and the state bound to the caller.
// GET /api/v1/google-ads/auth/url?customer_id=
func (h *AdsAccountHandler) AuthURL(c fiber.Ctx) error {
	var req dto.AdsAuthURLRequest
	if cid := c.Query("customer_id"); cid != "" {
		req.CustomerID = &cid
	}

	ctx, cancel := requestContext(c, "/api/v1/google-ads/auth/url")
	defer cancel()

	res, err := h.flow.AuthURL(ctx, &req)
	if err != nil {
		log.Println("Ads auth url failed", err)
		return flowError(c, err, "Failed to start authorization", "ADS_AUTH_URL_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Authorization URL generated", res)
}

// Callback completes the OAuth exchange.
// POST /api/v1/google-ads/auth/callback
func (h *AdsAccountHandler) Callback(c fiber.Ctx) error {
	var req dto.AdsAuthCallbackRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	ctx, cancel := requestContext(c, "/api/v1/google-ads/auth/callback")
	defer cancel()

	res, err := h.flow.Callback(ctx, &req)
	if err != nil {
		log.Println("Ads auth callback failed", err)
		return flowError(c, err, "Failed to link ads account", "ADS_AUTH_CALLBACK_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Ads account linked", res)
}

// List returns the caller's linked accounts.
// GET /api/v1/google-ads/accounts
func (h *AdsAccountHandler) List(c fiber.Ctx) error {
	ctx, cancel := requestContext(c, "/api/v1/google-ads/accounts")
	defer cancel()

	res, err := h.flow.List(ctx)
	if err != nil {
		return flowError(c, err, "Failed to list ads accounts", "ADS_ACCOUNT_LIST_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Ads accounts retrieved successfully", res)
}

// Disconnect deactivates a linked account.
// DELETE /api/v1/google-ads/accounts/:id
func (h *AdsAccountHandler) Disconnect(c fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid ads account id", "INVALID_ADS_ACCOUNT_ID", nil)
	}

	ctx, cancel := requestContext(c, "/api/v1/google-ads/accounts/"+id.String())
	defer cancel()

	if err := h.flow.Disconnect(ctx, id); err != nil {
		log.Println("Ads account disconnect failed", err)
		return flowError(c, err, "Failed to disconnect ads account", "ADS_ACCOUNT_DISCONNECT_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Ads account disconnected", nil)
}

// UpdateCustomerID re-points a linked account at another customer.
// PATCH /api/v1/google-ads/accounts/:id/customer-id
func (h *AdsAccountHandler) UpdateCustomerID(c fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid ads account id", "INVALID_ADS_ACCOUNT_ID", nil)
	}
	var req dto.UpdateCustomerIDRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	ctx, cancel := requestContext(c, "/api/v1/google-ads/accounts/"+id.String()+"/customer-id")
	defer cancel()

	res, err := h.flow.UpdateCustomerID(ctx, id, &req)
	if err != nil {
		log.Println("Ads account customer id update failed", err)
		return flowError(c, err, "Failed to update customer id", "ADS_ACCOUNT_UPDATE_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Customer id updated", res)
}

// Statistics summarizes the audiences of a linked account.
// GET /api/v1/google-ads/statistics?account_id=
func (h *AdsAccountHandler) Statistics(c fiber.Ctx) error {
	var accountID *uuid.UUID
	if raw := c.Query("account_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return ErrorResponse(c, fiber.StatusBadRequest, "Invalid ads account id", "INVALID_ADS_ACCOUNT_ID", nil)
		}
		accountID = &id
	}

	ctx, cancel := requestContext(c, "/api/v1/google-ads/statistics")
	defer cancel()

	res, err := h.flow.Statistics(ctx, accountID)
	if err != nil {
		return flowError(c, err, "Failed to get statistics", "ADS_STATISTICS_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Statistics retrieved successfully", res)
}
