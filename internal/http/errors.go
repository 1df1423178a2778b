package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/embeddings"
	"github.com/fyrsmithlabs/vectord/internal/gateway"
	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// mapError translates service errors to HTTP status codes.
//
//	validation failures        -> 400
//	unknown collection         -> 404
//	model or store unavailable -> 503
//	everything else            -> 500
func (s *Server) mapError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, gateway.ErrInvalidInput),
		errors.Is(err, gateway.ErrEmptyBatch),
		errors.Is(err, gateway.ErrMissingEmbedding),
		errors.Is(err, vectorstore.ErrInvalidCollectionName),
		errors.Is(err, vectorstore.ErrDimensionMismatch),
		errors.Is(err, vectorstore.ErrEmptyRecords),
		errors.Is(err, vectorstore.ErrInvalidConfig),
		errors.Is(err, embeddings.ErrEmptyInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())

	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())

	case errors.Is(err, embeddings.ErrModelUnavailable),
		errors.Is(err, vectorstore.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())

	default:
		s.logger.Error("internal error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
