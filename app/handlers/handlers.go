// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/evoteli/app/dto"
	businessflow "github.com/amirphl/evoteli/business_flow"
	"github.com/amirphl/evoteli/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// PrincipalLocal is the fiber local the auth middleware stores the caller under
const PrincipalLocal = "principal"

const defaultRequestTimeout = 30 * time.Second

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "len":
		return err.Field() + " must be exactly " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}

func ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: &dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
		RequestID: c.GetRespHeader(fiber.HeaderXRequestID),
	})
}

func SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		RequestID: c.GetRespHeader(fiber.HeaderXRequestID),
	})
}

// validationDetails turns validator errors into field -> message
func validationDetails(err error) any {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Namespace()] = getValidationErrorMessage(fe)
	}
	return details
}

// requestContext detaches the flow from the fiber context and carries the
// request metadata and the authenticated principal
func requestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	if p, ok := c.Locals(PrincipalLocal).(businessflow.Principal); ok {
		ctx = businessflow.WithPrincipal(ctx, p)
	}
	return ctx, cancel
}

func parseIDParam(c fiber.Ctx, name string) (uuid.UUID, error) {
	return uuid.Parse(c.Params(name))
}

func queryInt(c fiber.Ctx, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// flowError maps a business flow error to an API response
func flowError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	switch {
	case businessflow.IsUnauthenticated(err):
		return ErrorResponse(c, fiber.StatusUnauthorized, "Authentication required", "UNAUTHENTICATED", nil)
	case businessflow.IsPermissionDenied(err):
		return ErrorResponse(c, fiber.StatusForbidden, "Permission denied", "PERMISSION_DENIED", nil)
	case businessflow.IsSavedSearchNotFound(err):
		return ErrorResponse(c, fiber.StatusNotFound, "Saved search not found", "SAVED_SEARCH_NOT_FOUND", nil)
	case businessflow.IsSavedSearchAccessDenied(err):
		return ErrorResponse(c, fiber.StatusForbidden, "Saved search access denied", "SAVED_SEARCH_ACCESS_DENIED", nil)
	case businessflow.IsAudienceNotFound(err):
		return ErrorResponse(c, fiber.StatusNotFound, "Audience not found", "AUDIENCE_NOT_FOUND", nil)
	case businessflow.IsAudienceAccessDenied(err):
		return ErrorResponse(c, fiber.StatusForbidden, "Audience access denied", "AUDIENCE_ACCESS_DENIED", nil)
	case businessflow.IsAdsAccountNotFound(err):
		return ErrorResponse(c, fiber.StatusNotFound, "Ads account not found", "ADS_ACCOUNT_NOT_FOUND", nil)
	case businessflow.IsAdsAccountAccessDenied(err):
		return ErrorResponse(c, fiber.StatusForbidden, "Ads account access denied", "ADS_ACCOUNT_ACCESS_DENIED", nil)
	case businessflow.IsAdsAccountNotConnected(err):
		return ErrorResponse(c, fiber.StatusConflict, "Ads account is not connected", "ADS_ACCOUNT_NOT_CONNECTED", nil)
	case businessflow.IsCustomerIDInUse(err):
		return ErrorResponse(c, fiber.StatusConflict, "Customer id is already linked", "CUSTOMER_ID_IN_USE", nil)
	case businessflow.IsSyncAlreadyRunning(err):
		return ErrorResponse(c, fiber.StatusConflict, "A sync is already in progress", "SYNC_IN_PROGRESS", nil)
	case errors.Is(err, businessflow.ErrAudienceInactive):
		return ErrorResponse(c, fiber.StatusConflict, "Audience is inactive", "AUDIENCE_INACTIVE", nil)
	case businessflow.IsInvalidOAuthState(err):
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid or expired authorization state", "INVALID_OAUTH_STATE", nil)
	}

	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		if businessflow.IsValidationError(err) {
			return ErrorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, validationDetails(be.Err))
		}
		if be.Code == "OAUTH_EXCHANGE_FAILED" {
			return ErrorResponse(c, fiber.StatusBadGateway, be.Message, be.Code, nil)
		}
		return ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, be.Code, nil)
	}
	return ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}
