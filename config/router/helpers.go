package router

import (
	"net/http"

	"github.com/akeren/waitlist-gate/internal/log"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"github.com/google/uuid"
)

func GetLogger(ctx *RequestContext) *log.Logger {
	if l, ok := ctx.Request.Context().Value(log.LoggerKeyForContext).(*log.Logger); ok {
		return l
	}

	return log.NewLoggerWithJSONOutput().WithCorrelationID(ctx.Request.Context())
}

func OKResult(data any, message string) *ServiceResult {
	return &ServiceResult{
		StatusCode: http.StatusOK,
		Data:       data,
		Message:    message,
	}
}

func CreatedResult(data any, resourceName string) *ServiceResult {
	return &ServiceResult{
		StatusCode: http.StatusCreated,
		Data:       data,
		Message:    resourceName + " created successfully",
	}
}

func RedirectResult(location string) *ServiceResult {
	return &ServiceResult{
		StatusCode:  http.StatusFound,
		RedirectURL: location,
	}
}

func TooManyRequestsResult(data RateLimitResponse) *ServiceResult {
	return &ServiceResult{
		StatusCode: http.StatusTooManyRequests,
		Data:       data,
		Message:    "Too Many Requests",
	}
}

func BadRequestResult(message string, payload any) *ServiceResult {
	return &ServiceResult{
		StatusCode: http.StatusBadRequest,
		Data:       payload,
		Message:    message,
	}
}

func NotFoundResult(message string) *ServiceResult {
	return &ServiceResult{
		StatusCode: http.StatusNotFound,
		Data:       nil,
		Message:    message,
	}
}

func InternalServerErrorResult(message string) *ServiceResult {
	return &ServiceResult{
		StatusCode: http.StatusInternalServerError,
		Data:       nil,
		Message:    message,
	}
}

func ErrorResult(statusCode int, message string, data any) *ServiceResult {
	return &ServiceResult{
		StatusCode: statusCode,
		Data:       data,
		Message:    message,
	}
}

// AppErrorResult maps an application error onto its HTTP status and public message.
func AppErrorResult(err error, data any) *ServiceResult {
	return ErrorResult(apperrors.HTTPStatusCode(err), apperrors.GetHumanReadableMessage(err), data)
}

// BindJSON decodes the body into req. On failure it returns the 400 result to send.
func BindJSON(ctx *RequestContext, req any) *ServiceResult {
	if err := ctx.ShouldBindJSON(req); err != nil {
		GetLogger(ctx).Warn("Failed to bind request", "error", err)

		if validationErrors := apperrors.FormatValidationErrors(err, req); len(validationErrors) > 0 {
			return BadRequestResult("Invalid request payload", validationErrors)
		}
		return BadRequestResult("Invalid request body", nil)
	}
	return nil
}

func ParseUUIDParam(ctx *RequestContext, paramName string) (string, *ServiceResult) {
	raw := ctx.Param(paramName)

	id, err := uuid.Parse(raw)
	if err != nil {
		GetLogger(ctx).Warn("Invalid UUID parameter", "param", paramName, "value", raw, "error", err)
		return "", BadRequestResult("Invalid "+paramName+" parameter", nil)
	}

	return id.String(), nil
}
