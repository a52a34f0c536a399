// Package server exposes the reconciliation pipeline and charge ledger
// over HTTP for the review UI and for unattended integrations.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"freight-reconciliation-service/internal/ledger"
	"freight-reconciliation-service/internal/models"
	"freight-reconciliation-service/internal/parsers"
	"freight-reconciliation-service/internal/reconciler"
	apperrors "freight-reconciliation-service/pkg/errors"
	"freight-reconciliation-service/pkg/logger"
)

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	service *reconciler.Service
	ledger  *ledger.Ledger
	parser  *parsers.ExtractionParser
	log     logger.Logger
}

// New creates a Server over an assembled pipeline service and ledger.
func New(service *reconciler.Service, ldg *ledger.Ledger) *Server {
	return &Server{
		service: service,
		ledger:  ldg,
		parser:  parsers.NewExtractionParser(),
		log:     logger.WithComponent("http_server"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/invoices/reconcile", s.handleReconcile)

		shipments := v1.Group("/shipments/:id")
		{
			shipments.POST("/charges/apply", s.handleApply)
			shipments.POST("/charges/unapply", s.handleUnapply)
			shipments.POST("/charges/auto-apply", s.handleAutoApply)
			shipments.GET("/status", s.handleStatus)
			shipments.POST("/exception", s.handleException)
		}
	}

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.WithFields(logger.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		}).Debug("request handled")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReconcile runs the full pipeline on an extraction payload.
func (s *Server) handleReconcile(c *gin.Context) {
	shipments, err := s.parser.Parse(c.Request.Body)
	if err != nil {
		s.renderError(c, err)
		return
	}

	result, err := s.service.ProcessExtraction(c.Request.Context(), shipments)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// chargeSelection is the request body for apply and unapply. Clients
// send back the comparison rows they received from the reconcile call
// together with the indices they selected.
type chargeSelection struct {
	Indices []int                  `json:"indices" binding:"required"`
	Rows    []models.ComparisonRow `json:"rows" binding:"required"`
}

func (s *Server) handleApply(c *gin.Context) {
	var req chargeSelection
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := s.ledger.Apply(c.Request.Context(), c.Param("id"), req.Indices, req.Rows)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleUnapply(c *gin.Context) {
	var req chargeSelection
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := s.ledger.Unapply(c.Request.Context(), c.Param("id"), req.Indices, req.Rows)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type autoApplyRequest struct {
	Rows []models.ComparisonRow `json:"rows" binding:"required"`
}

func (s *Server) handleAutoApply(c *gin.Context) {
	var req autoApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := s.ledger.AutoApply(c.Request.Context(), c.Param("id"), req.Rows)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type statusQuery struct {
	TotalRows int `form:"totalRows" binding:"required"`
}

func (s *Server) handleStatus(c *gin.Context) {
	var q statusQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := s.ledger.Status(c.Request.Context(), c.Param("id"), q.TotalRows)
	if err != nil {
		s.renderError(c, err)
		return
	}

	records, err := s.ledger.Records(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"shipmentId": c.Param("id"),
		"status":     status,
		"applied":    records,
	})
}

type exceptionRequest struct {
	TotalRows int `json:"totalRows"`
}

func (s *Server) handleException(c *gin.Context) {
	var req exceptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := s.ledger.MarkException(c.Request.Context(), c.Param("id"), req.TotalRows)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shipmentId": c.Param("id"), "status": status})
}

// renderError maps domain errors to HTTP statuses. Ledger conflicts
// surface as 409 so clients know to refresh and retry.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.HasCode(err, apperrors.CodeLedgerConflict):
		status = http.StatusConflict
	case apperrors.HasCode(err, apperrors.CodeShipmentNotFound):
		status = http.StatusNotFound
	case apperrors.HasCode(err, apperrors.CodeInvalidPayload),
		apperrors.HasCode(err, apperrors.CodeExtractionMissing),
		apperrors.HasCode(err, apperrors.CodeInvalidChargeSelection):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}

	body := gin.H{"error": err.Error()}
	if re, ok := apperrors.AsReconcilerError(err); ok {
		body["code"] = re.Code
		if re.Suggestion != "" {
			body["suggestion"] = re.Suggestion
		}
	}
	c.JSON(status, body)
}
