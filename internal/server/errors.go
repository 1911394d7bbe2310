package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/leadforge/internal/auth/domain"
	"github.com/smallbiznis/leadforge/internal/authorization"
	billingdomain "github.com/smallbiznis/leadforge/internal/billing/domain"
	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	meteringdomain "github.com/smallbiznis/leadforge/internal/metering/domain"
	pricingdomain "github.com/smallbiznis/leadforge/internal/pricing/domain"
	providerdomain "github.com/smallbiznis/leadforge/internal/providers/domain"
	"github.com/smallbiznis/leadforge/internal/ratelimit"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var limited *ratelimit.LimitedError
		if errors.As(lastErr.Err, &limited) && limited.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var insufficient *ledgerdomain.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "not enough credits for this action",
			Details: map[string]any{
				"action_type": insufficient.ActionType,
				"required":    insufficient.Required,
				"current":     insufficient.Balance,
			},
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, meteringdomain.ErrCredentialInvalid):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "credential_invalid",
			Message: "your API key was rejected by the provider, please update your credentials",
		}
	case errors.Is(err, meteringdomain.ErrCredentialUnavailable):
		return http.StatusConflict, errorPayload{
			Type:    "credential_unavailable",
			Message: "your API key settings changed during the request, please retry",
		}
	case errors.Is(err, byokdomain.ErrCredentialVerificationFailed):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "credential_verification_failed",
			Message: verificationMessage(err),
		}
	case errors.Is(err, pricingdomain.ErrUnknownAction):
		return http.StatusBadRequest, errorPayload{
			Type:    "unknown_action",
			Message: "unknown action type",
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "not enough credits for this action",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests, slow down",
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrMissingToken),
		errors.Is(err, authdomain.ErrInvalidToken),
		errors.Is(err, authdomain.ErrTokenExpired),
		errors.Is(err, authdomain.ErrAuthNotConfigured):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, billingdomain.ErrPlanSlugTaken),
		errors.Is(err, billingdomain.ErrSubscriptionConflict),
		errors.Is(err, byokdomain.ErrCredentialsChanged),
		errors.Is(err, byokdomain.ErrVerificationInProgress),
		errors.Is(err, ledgerdomain.ErrNotRefundable):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: notFoundMessage(err),
		}
	case errors.Is(err, providerdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "provider_rate_limited",
			Message: "the upstream provider is rate limiting requests",
		}
	case errors.Is(err, providerdomain.ErrUnauthorized),
		errors.Is(err, providerdomain.ErrUpstream):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: "the upstream provider request failed",
		}
	case errors.Is(err, ledgerdomain.ErrTransientStore),
		errors.Is(err, providerdomain.ErrMissingKey),
		errors.Is(err, byokdomain.ErrEncryptionKeyMissing),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service temporarily unavailable, please retry",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, meteringdomain.ErrInvalidRequest),
		errors.Is(err, providerdomain.ErrInvalidInput):
		return true
	case isPricingValidationError(err),
		isLedgerValidationError(err),
		isBillingValidationError(err),
		isByokValidationError(err):
		return true
	default:
		return false
	}
}

func isPricingValidationError(err error) bool {
	return errors.Is(err, pricingdomain.ErrInvalidActionType) ||
		errors.Is(err, pricingdomain.ErrInvalidCredits)
}

func isLedgerValidationError(err error) bool {
	return errors.Is(err, ledgerdomain.ErrInvalidUser) ||
		errors.Is(err, ledgerdomain.ErrInvalidAmount) ||
		errors.Is(err, ledgerdomain.ErrInvalidActionType)
}

func isBillingValidationError(err error) bool {
	return errors.Is(err, billingdomain.ErrInvalidUser) ||
		errors.Is(err, billingdomain.ErrInvalidPlan) ||
		errors.Is(err, billingdomain.ErrPurchaseBelowMinimum) ||
		errors.Is(err, billingdomain.ErrPurchaseAboveMaximum)
}

func isByokValidationError(err error) bool {
	return errors.Is(err, byokdomain.ErrInvalidUser) ||
		errors.Is(err, byokdomain.ErrUnsupportedProvider) ||
		errors.Is(err, byokdomain.ErrNoCredentials)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledgerdomain.ErrWalletNotFound),
		errors.Is(err, billingdomain.ErrPlanNotFound),
		errors.Is(err, billingdomain.ErrPaymentNotFound),
		errors.Is(err, billingdomain.ErrNoActiveSubscription),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, meteringdomain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, providerdomain.ErrInvalidInput):
		return "invalid_provider_input"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "purchase_below_minimum":
		return "credit purchase is below the minimum amount"
	case "purchase_above_maximum":
		return "credit purchase is above the maximum amount"
	case "no_credentials":
		return "no API keys configured"
	case "unsupported_provider":
		return "unsupported provider"
	default:
		return "invalid value"
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, ledgerdomain.ErrWalletNotFound):
		return "wallet not found"
	case errors.Is(err, billingdomain.ErrPlanNotFound):
		return "plan not found"
	case errors.Is(err, billingdomain.ErrPaymentNotFound):
		return "payment not found"
	case errors.Is(err, billingdomain.ErrNoActiveSubscription):
		return "no active subscription"
	default:
		return "not found"
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, byokdomain.ErrVerificationInProgress):
		return "key verification already in progress"
	case errors.Is(err, byokdomain.ErrCredentialsChanged):
		return "keys changed during verification, please retry"
	case errors.Is(err, billingdomain.ErrPlanSlugTaken):
		return "plan slug already exists"
	default:
		return "conflict"
	}
}

func verificationMessage(err error) string {
	var vErr *byokdomain.VerificationError
	if errors.As(err, &vErr) {
		return "API key verification failed for " + string(vErr.Provider)
	}
	return "API key verification failed"
}
