package report

import (
	"errors"
	"net/http"

	coreagg "github.com/dairytrack/dairytrack/internal/core/aggregation"
	httperr "github.com/dairytrack/dairytrack/internal/core/errors"
	"github.com/gin-gonic/gin"
)

const defaultComputeBodyMB = 8

// RegisterRoutes registers all report API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/reports", s.HandleListReports)
	r.GET("/v1/reports/:report", s.HandleReport)
	r.POST("/v1/reports/:report/compute", s.HandleCompute)
	r.GET("/v1/dashboard", s.HandleDashboard)
}

// HandleListReports handles GET /v1/reports
func (s *Service) HandleListReports(c *gin.Context) {
	reports, err := s.ListReports(c.Request.Context())
	if err != nil {
		writeServiceError(c, err, "Failed to list reports")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// HandleReport handles GET /v1/reports/:report
// Query parameters: start, end, granularity, preset, cow_id
func (s *Service) HandleReport(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}
	req.Report = c.Param("report")

	resp, err := s.Report(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err, "Failed to build report")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCompute handles POST /v1/reports/:report/compute
// The body carries the window fields plus the records to aggregate.
func (s *Service) HandleCompute(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, defaultComputeBodyMB*1024*1024)

	var req ComputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON body",
			Details:   err.Error(),
		})
		return
	}
	req.Report = c.Param("report")

	resp, err := s.Compute(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err, "Failed to compute report")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDashboard handles GET /v1/dashboard
// Query parameters: preset, start, end, cow_id
func (s *Service) HandleDashboard(c *gin.Context) {
	var req DashboardRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	resp, err := s.Dashboard(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err, "Failed to build dashboard")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func writeServiceError(c *gin.Context, err error, internalMsg string) {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid report query",
			Details:   err.Error(),
		})
	case errors.Is(err, coreagg.ErrReportNotFound):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpReportNotFoundError,
			Message:   err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   internalMsg,
			Details:   err.Error(),
		})
	}
}
