package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/handler/dto"
	"github.com/finbridge/marketgate/internal/ierr"
)

func ErrorHandlerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("ErrorHandler")
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, errResponse := mapError(err)

		if status >= http.StatusInternalServerError {
			log.Error("Request failed", zap.Error(err))
		} else {
			log.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
		}

		c.AbortWithStatusJSON(status, errResponse)
	}
}

// mapError translates an error recorded on the context into the status and
// body the client receives. The usage recorder calls it too: it runs inside
// this middleware and needs the final status before the response is written.
func mapError(err error) (int, dto.APIErrorResponse) {
	status := http.StatusInternalServerError
	errResponse := dto.APIErrorResponse{
		Code:    "INTERNAL_ERROR",
		Message: "An unexpected error occurred.",
	}

	var ve validator.ValidationErrors

	if errors.As(err, &ve) {
		status = http.StatusBadRequest
		errResponse.Code = "VALIDATION_ERROR"
		errResponse.Message = "Input validation failed."
		errResponse.Details = buildValidationErrors(ve)
	} else {
		switch {
		case errors.Is(err, ierr.ErrValidation):
			status = http.StatusBadRequest
			errResponse.Code = "VALIDATION_ERROR"
			errResponse.Message = err.Error()
		case errors.Is(err, ierr.ErrWebhookSignature):
			status = http.StatusBadRequest
			errResponse.Code = "WEBHOOK_SIGNATURE_INVALID"
			errResponse.Message = "Webhook signature verification failed."

		// The gate's three denial reasons keep distinct codes so clients
		// can tell "send a key" from "fix your key" from "fix your
		// subscription".
		case errors.Is(err, ierr.ErrMissingAPIKey):
			status = http.StatusUnauthorized
			errResponse.Code = "API_KEY_MISSING"
			errResponse.Message = "An API key is required. Pass it in the X-API-Key header."
		case errors.Is(err, ierr.ErrInvalidAPIKey):
			status = http.StatusUnauthorized
			errResponse.Code = "API_KEY_INVALID"
			errResponse.Message = "The API key is unknown or has been revoked."
		case errors.Is(err, ierr.ErrSubscriptionInactive):
			status = http.StatusForbidden
			errResponse.Code = "SUBSCRIPTION_INACTIVE"
			errResponse.Message = "The API key is valid but its subscription does not grant access."

		case errors.Is(err, ierr.ErrUnauthorized), errors.Is(err, ierr.ErrInvalidCredentials), errors.Is(err, ierr.ErrInvalidToken):
			status = http.StatusUnauthorized
			errResponse.Code = "UNAUTHENTICATED"
			errResponse.Message = "Authentication required or failed."
		case errors.Is(err, ierr.ErrForbidden):
			status = http.StatusForbidden
			errResponse.Code = "FORBIDDEN"
			errResponse.Message = "Access denied."
		case errors.Is(err, ierr.ErrSymbolUnavailable):
			status = http.StatusNotFound
			errResponse.Code = "SYMBOL_UNAVAILABLE"
			errResponse.Message = "The requested symbol was not found upstream."
		case errors.Is(err, ierr.ErrNotFound), errors.Is(err, ierr.ErrAccountNotFound), errors.Is(err, ierr.ErrAPIKeyNotFound):
			status = http.StatusNotFound
			errResponse.Code = "NOT_FOUND"
			errResponse.Message = "The requested resource was not found."
		case errors.Is(err, ierr.ErrConflict), errors.Is(err, ierr.ErrEmailTaken):
			status = http.StatusConflict
			errResponse.Code = "CONFLICT"
			errResponse.Message = err.Error()
		case errors.Is(err, ierr.ErrUpstreamUnavailable):
			status = http.StatusBadGateway
			errResponse.Code = "UPSTREAM_UNAVAILABLE"
			errResponse.Message = "The upstream market-data provider is unavailable."
		case errors.Is(err, ierr.ErrBillingNotConfigured):
			status = http.StatusServiceUnavailable
			errResponse.Code = "BILLING_NOT_CONFIGURED"
			errResponse.Message = "Billing is not configured on this deployment."
		default:
			errResponse.Message = err.Error()
		}
	}

	return status, errResponse
}

func buildValidationErrors(ve validator.ValidationErrors) []dto.FieldError {
	details := make([]dto.FieldError, len(ve))
	for i, fe := range ve {
		details[i] = dto.FieldError{
			Field:   fe.Field(),
			Message: getValidationErrorMsg(fe),
		}
	}
	return details
}

func getValidationErrorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field '%s' is required", fe.Field())
	case "email":
		return fmt.Sprintf("Field '%s' must be a valid email address", fe.Field())
	case "url":
		return fmt.Sprintf("Field '%s' must be a valid URL", fe.Field())
	case "min":
		return fmt.Sprintf("Field '%s' must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("Field '%s' must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("Field '%s' must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("Field '%s' failed validation on the '%s' tag", fe.Field(), fe.Tag())
	}
}
