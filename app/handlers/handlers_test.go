package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	businessflow "github.com/amirphl/evoteli/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   struct {
		Code    string `json:"code"`
		Details any    `json:"details"`
	} `json:"error"`
}

func TestFlowError_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthenticated", businessflow.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"permission", businessflow.ErrPermissionDenied, http.StatusForbidden, "PERMISSION_DENIED"},
		{"search not found", businessflow.ErrSavedSearchNotFound, http.StatusNotFound, "SAVED_SEARCH_NOT_FOUND"},
		{"audience foreign", businessflow.ErrAudienceAccessDenied, http.StatusForbidden, "AUDIENCE_ACCESS_DENIED"},
		{"sync running", businessflow.ErrSyncAlreadyRunning, http.StatusConflict, "SYNC_IN_PROGRESS"},
		{"not connected", businessflow.ErrAdsAccountNotConnected, http.StatusConflict, "ADS_ACCOUNT_NOT_CONNECTED"},
		{"customer id taken", businessflow.ErrCustomerIDInUse, http.StatusConflict, "CUSTOMER_ID_IN_USE"},
		{"oauth state", businessflow.ErrInvalidOAuthState, http.StatusBadRequest, "INVALID_OAUTH_STATE"},
		{"wrapped not found", fmt.Errorf("load: %w", businessflow.ErrAudienceNotFound), http.StatusNotFound, "AUDIENCE_NOT_FOUND"},
		{"schedule", businessflow.NewBusinessError("INVALID_SCHEDULE", "bad day", businessflow.ErrAlertDayOutOfRange), http.StatusBadRequest, "INVALID_SCHEDULE"},
		{"exchange", businessflow.NewBusinessError("OAUTH_EXCHANGE_FAILED", "exchange failed", nil), http.StatusBadGateway, "OAUTH_EXCHANGE_FAILED"},
		{"other business error", businessflow.NewBusinessError("SAVE_FAILED", "x", errors.New("db")), http.StatusInternalServerError, "SAVE_FAILED"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "FALLBACK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c fiber.Ctx) error {
				return flowError(c, tt.err, "fallback message", "FALLBACK")
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestRequestContext_CarriesPrincipal(t *testing.T) {
	userID := uuid.New()
	app := fiber.New()
	app.Get("/", func(c fiber.Ctx) error {
		c.Locals(PrincipalLocal, businessflow.Principal{UserID: userID, Permissions: businessflow.DefaultPermissions})
		ctx, cancel := requestContext(c, "/")
		defer cancel()

		p, ok := businessflow.PrincipalFrom(ctx)
		if !ok {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return c.SendString(p.UserID.String())
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestQueryInt(t *testing.T) {
	app := fiber.New()
	var got []int
	app.Get("/", func(c fiber.Ctx) error {
		got = append(got, queryInt(c, "page", 1))
		return nil
	})

	for _, target := range []string{"/", "/?page=3", "/?page=abc"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, []int{1, 3, 1}, got)
}

func TestSuccessResponse_EchoesRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(requestid.New())
	app.Get("/", func(c fiber.Ctx) error {
		return SuccessResponse(c, fiber.StatusOK, "ok", fiber.Map{"n": 1})
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Success   bool   `json:"success"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, resp.Header.Get(fiber.HeaderXRequestID), body.RequestID)
}
