// Package http provides the HTTP API for vectord.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/gateway"
	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// DefaultSearchLimit applies when a search request omits the limit.
const DefaultSearchLimit = 5

// Server provides HTTP endpoints for vectord.
type Server struct {
	echo    *echo.Echo
	service *gateway.Service
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(service *gateway.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		service: service,
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/embed", s.handleEmbed)
	s.echo.POST("/embed/batch", s.handleEmbedBatch)

	s.echo.POST("/collection/create", s.handleCreateCollection)
	s.echo.GET("/collection/list", s.handleListCollections)
	s.echo.DELETE("/collection/:name", s.handleDropCollection)
	s.echo.POST("/collection/:name/insert", s.handleInsert)
	s.echo.POST("/collection/:name/search", s.handleSearch)
	s.echo.POST("/collection/:name/search/vector", s.handleSearchByVector)
}

// EmbedRequest is the request body for POST /embed.
type EmbedRequest struct {
	Text string `json:"text"`
}

// EmbedResponse is the response body for POST /embed.
type EmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

// EmbedBatchRequest is the request body for POST /embed/batch.
type EmbedBatchRequest struct {
	Texts []string `json:"texts"`
}

// EmbedBatchResponse is the response body for POST /embed/batch.
type EmbedBatchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimension  int         `json:"dimension"`
	Count      int         `json:"count"`
}

// CollectionCreateRequest is the request body for POST /collection/create.
type CollectionCreateRequest struct {
	Name        string `json:"name"`
	Dimension   int    `json:"dimension"`
	Description string `json:"description"`
}

// ListCollectionsResponse is the response body for GET /collection/list.
type ListCollectionsResponse struct {
	Collections []string `json:"collections"`
}

// InsertRequest is the request body for POST /collection/:name/insert.
// AutoEmbed defaults to true when omitted.
type InsertRequest struct {
	Items     []gateway.InsertItem `json:"items"`
	AutoEmbed *bool                `json:"auto_embed"`
}

// SearchRequest is the request body for POST /collection/:name/search.
type SearchRequest struct {
	Query        string   `json:"query"`
	Limit        int      `json:"limit"`
	OutputFields []string `json:"output_fields"`
}

// SearchByVectorRequest is the request body for
// POST /collection/:name/search/vector.
type SearchByVectorRequest struct {
	QueryVector  []float32 `json:"query_vector"`
	Limit        int       `json:"limit"`
	OutputFields []string  `json:"output_fields"`
}

// SearchResponse is the response body for both search endpoints.
type SearchResponse struct {
	Results []vectorstore.SearchHit `json:"results"`
	Count   int                     `json:"count"`
}

// handleHealth reports aggregate service health. Degraded state still
// returns 200; liveness and dependency health are separate concerns.
func (s *Server) handleHealth(c echo.Context) error {
	health := s.service.Health(c.Request().Context())
	return c.JSON(http.StatusOK, health)
}

// handleEmbed embeds a single text.
func (s *Server) handleEmbed(c echo.Context) error {
	var req EmbedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	embedding, err := s.service.Embed(c.Request().Context(), req.Text)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, EmbedResponse{
		Embedding: embedding,
		Dimension: len(embedding),
	})
}

// handleEmbedBatch embeds a batch of texts.
func (s *Server) handleEmbedBatch(c echo.Context) error {
	var req EmbedBatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	embeddings, err := s.service.EmbedBatch(c.Request().Context(), req.Texts)
	if err != nil {
		return s.mapError(err)
	}
	dimension := 0
	if len(embeddings) > 0 {
		dimension = len(embeddings[0])
	}
	return c.JSON(http.StatusOK, EmbedBatchResponse{
		Embeddings: embeddings,
		Dimension:  dimension,
		Count:      len(embeddings),
	})
}

// handleCreateCollection creates a collection. Idempotent.
func (s *Server) handleCreateCollection(c echo.Context) error {
	var req CollectionCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.service.CreateCollection(c.Request().Context(), req.Name, req.Dimension, req.Description)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// handleListCollections lists all collection names.
func (s *Server) handleListCollections(c echo.Context) error {
	collections, err := s.service.ListCollections(c.Request().Context())
	if err != nil {
		return s.mapError(err)
	}
	if collections == nil {
		collections = []string{}
	}
	return c.JSON(http.StatusOK, ListCollectionsResponse{Collections: collections})
}

// handleDropCollection removes a collection.
func (s *Server) handleDropCollection(c echo.Context) error {
	result, err := s.service.DropCollection(c.Request().Context(), c.Param("name"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// handleInsert inserts a batch of items into a collection.
func (s *Server) handleInsert(c echo.Context) error {
	var req InsertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	autoEmbed := true
	if req.AutoEmbed != nil {
		autoEmbed = *req.AutoEmbed
	}

	result, err := s.service.Insert(c.Request().Context(), c.Param("name"), req.Items, autoEmbed)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// handleSearch embeds the query text and searches the collection.
func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Limit == 0 {
		req.Limit = DefaultSearchLimit
	}

	results, err := s.service.SearchByText(c.Request().Context(), c.Param("name"), []string{req.Query}, req.Limit, req.OutputFields)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, searchResponse(results))
}

// handleSearchByVector searches the collection with a precomputed vector.
func (s *Server) handleSearchByVector(c echo.Context) error {
	var req SearchByVectorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Limit == 0 {
		req.Limit = DefaultSearchLimit
	}

	results, err := s.service.SearchByVector(c.Request().Context(), c.Param("name"), [][]float32{req.QueryVector}, req.Limit, req.OutputFields)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, searchResponse(results))
}

// searchResponse flattens the single-query hit list into the response shape.
func searchResponse(results [][]vectorstore.SearchHit) SearchResponse {
	hits := []vectorstore.SearchHit{}
	if len(results) > 0 && results[0] != nil {
		hits = results[0]
	}
	for i := range hits {
		if hits[i].Metadata == nil {
			hits[i].Metadata = json.RawMessage("{}")
		}
	}
	return SearchResponse{Results: hits, Count: len(hits)}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler, mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
