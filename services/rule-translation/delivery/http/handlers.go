package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/usecase"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/shared/common"
)

// translate handles POST /api/v1/translations
func (s *Server) translate(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, common.NewAppErrorWithDetails(common.ErrCodeInvalidFormat, "invalid request body", err.Error()))
		return
	}

	result, err := s.service.Translate(c.Request.Context(), usecase.TranslateRequest{
		SourcePlatform: req.SourcePlatform,
		TargetPlatform: req.TargetPlatform,
		Canonical:      req.Canonical,
		UseCache:       useCache(req.UseCache),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// translateNative handles POST /api/v1/translations/native
func (s *Server) translateNative(c *gin.Context) {
	var req TranslateNativeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, common.NewAppErrorWithDetails(common.ErrCodeInvalidFormat, "invalid request body", err.Error()))
		return
	}

	result, err := s.service.TranslateNative(c.Request.Context(), usecase.TranslateNativeRequest{
		SourcePlatform: req.SourcePlatform,
		TargetPlatform: req.TargetPlatform,
		Query:          req.Query,
		UseCache:       useCache(req.UseCache),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// translateAll handles POST /api/v1/translations/all
func (s *Server) translateAll(c *gin.Context) {
	var req TranslateAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, common.NewAppErrorWithDetails(common.ErrCodeInvalidFormat, "invalid request body", err.Error()))
		return
	}

	batch, err := s.service.TranslateAll(c.Request.Context(), req.SourcePlatform, req.Canonical, useCache(req.UseCache))
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp := TranslateAllResponse{Results: batch.Results}
	if len(batch.Errors) > 0 {
		resp.Errors = make(map[entity.Platform]ErrorResponse, len(batch.Errors))
		for platform, err := range batch.Errors {
			resp.Errors[platform] = errorResponse(toAppError(err))
		}
	}
	c.JSON(http.StatusOK, resp)
}

// validate handles POST /api/v1/validations
func (s *Server) validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, common.NewAppErrorWithDetails(common.ErrCodeInvalidFormat, "invalid request body", err.Error()))
		return
	}

	result, err := s.service.Validate(c.Request.Context(), req.Platform, req.Query)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) listPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": s.service.Platforms()})
}

func (s *Server) resilienceStates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": s.service.ResilienceStates()})
}

// healthCheck reports open circuits as degraded
func (s *Server) healthCheck(c *gin.Context) {
	status := "healthy"
	var open []entity.Platform
	for _, state := range s.service.ResilienceStates() {
		if state.CircuitState == entity.CircuitOpen {
			open = append(open, state.Platform)
		}
	}
	if len(open) > 0 {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"service":        s.serviceConfig.Name,
		"version":        s.serviceConfig.Version,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"open_circuits":  open,
	})
}
