package controller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chart-gateway/internal/database"
	"chart-gateway/internal/database/metadata"
	"chart-gateway/internal/middleware"
	"chart-gateway/internal/query"
	"chart-gateway/internal/repository"
	"chart-gateway/internal/security"
	"chart-gateway/internal/service"
	"chart-gateway/internal/utils"
	"chart-gateway/pkg/response"
)

var validationCodes = map[query.ValidationKind]string{
	query.UnknownTable:            utils.ErrCodeUnknownTable,
	query.UnknownField:            utils.ErrCodeUnknownField,
	query.IncompatibleAggregation: utils.ErrCodeIncompatibleAggregation,
	query.IncompatibleOperator:    utils.ErrCodeIncompatibleOperator,
	query.InvalidLimit:            utils.ErrCodeInvalidLimit,
	query.UnknownOrderField:       utils.ErrCodeUnknownOrderField,
	query.InvalidFilterValue:      utils.ErrCodeInvalidFilterValue,
	query.EmptySelection:          utils.ErrCodeEmptySelection,
	query.DuplicateField:          utils.ErrCodeDuplicateField,
}

// appErrorFrom converts an engine or registry error into an AppError whose
// message is safe for clients. Statement text and parameters never reach
// the message; they stay in Details and Cause for server logs.
func appErrorFrom(err error) *utils.AppError {
	var (
		appErr        *utils.AppError
		validationErr *query.ValidationError
		lookupErr     *metadata.SchemaLookupError
		execErr       *service.QueryExecutionError
		unsafeErr     *security.UnsafeStatementError
	)

	switch {
	case errors.As(err, &appErr):
		return appErr

	case errors.As(err, &validationErr):
		code, ok := validationCodes[validationErr.Kind]
		if !ok {
			code = utils.ErrCodeValidationFailed
		}
		return utils.NewErrorBuilder(code).
			WithMessage(validationErr.Error()).
			WithCause(err).
			Build()

	case errors.Is(err, database.ErrUnknownDataSource), errors.Is(err, repository.ErrDataSourceNotFound):
		return utils.NewErrorBuilder(utils.ErrCodeDataSourceNotFound).WithCause(err).Build()

	case errors.Is(err, repository.ErrDataSourceExists):
		return utils.NewErrorBuilder(utils.ErrCodeDataSourceExists).WithCause(err).Build()

	case errors.Is(err, service.ErrInvalidDataSource):
		return utils.NewErrorBuilder(utils.ErrCodeInvalidDataSource).
			WithMessage(err.Error()).
			WithCause(err).
			Build()

	case errors.Is(err, database.ErrPoolExhausted), errors.Is(err, database.ErrPoolClosed):
		return utils.NewErrorBuilder(utils.ErrCodeConnectionPoolExhausted).WithCause(err).Build()

	case errors.Is(err, metadata.ErrTableNotFound):
		return utils.NewErrorBuilder(utils.ErrCodeUnknownTable).WithCause(err).Build()

	case errors.As(err, &lookupErr):
		return utils.NewErrorBuilder(utils.ErrCodeSchemaLookupFailed).
			WithDetails(lookupErr.Error()).
			WithCause(err).
			Build()

	case errors.As(err, &execErr):
		code := utils.ErrCodeQueryFailed
		if execErr.Kind == service.ExecutionTimeout {
			code = utils.ErrCodeQueryTimeout
		}
		return utils.NewErrorBuilder(code).
			WithMessage(execErr.Message).
			WithDetails(execErr.Statement).
			WithCause(err).
			Build()

	case errors.As(err, &unsafeErr):
		return utils.NewErrorBuilder(utils.ErrCodeUnsafeStatement).
			WithDetails(unsafeErr.Statement).
			WithCause(err).
			Build()

	case errors.Is(err, context.DeadlineExceeded):
		return utils.NewErrorBuilder(utils.ErrCodeQueryTimeout).WithCause(err).Build()

	case errors.Is(err, context.Canceled):
		return utils.NewErrorBuilder(utils.ErrCodeServiceUnavailable).
			WithMessage("Request cancelled").
			WithCause(err).
			Build()

	default:
		return utils.NewErrorBuilder(utils.ErrCodeInternalError).WithCause(err).Build()
	}
}

// respondError writes the envelope for err and logs server-side failures
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	appErr := appErrorFrom(err)
	status := utils.GetErrorStatus(appErr)

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"path", c.FullPath(),
			"code", appErr.Code,
			"details", appErr.Details,
			"error", err,
			"correlation_id", middleware.GetCorrelationID(c),
		)
	}

	_ = c.Error(err)
	c.JSON(status, response.ErrorResponseFromAppError(appErr, middleware.GetCorrelationID(c)))
}

// respondInvalidRequest writes a 400 for a body or query that failed to bind
func respondInvalidRequest(c *gin.Context, message string, err error) {
	appErr := utils.NewErrorBuilder(utils.ErrCodeInvalidRequest).
		WithMessage(message + ": " + err.Error()).
		Build()
	c.JSON(http.StatusBadRequest, response.ErrorResponseFromAppError(appErr, middleware.GetCorrelationID(c)))
}
