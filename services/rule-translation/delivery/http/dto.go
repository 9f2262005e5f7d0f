package http

import (
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

// TranslateRequest is the body of POST /api/v1/translations
type TranslateRequest struct {
	SourcePlatform string                     `json:"source_platform" binding:"required"`
	TargetPlatform string                     `json:"target_platform" binding:"required"`
	Canonical      *entity.CanonicalDetection `json:"canonical" binding:"required"`
	UseCache       *bool                      `json:"use_cache"`
}

// TranslateNativeRequest is the body of POST /api/v1/translations/native
type TranslateNativeRequest struct {
	SourcePlatform string `json:"source_platform" binding:"required"`
	TargetPlatform string `json:"target_platform" binding:"required"`
	Query          string `json:"query" binding:"required"`
	UseCache       *bool  `json:"use_cache"`
}

// TranslateAllRequest is the body of POST /api/v1/translations/all
type TranslateAllRequest struct {
	SourcePlatform string                     `json:"source_platform" binding:"required"`
	Canonical      *entity.CanonicalDetection `json:"canonical" binding:"required"`
	UseCache       *bool                      `json:"use_cache"`
}

// ValidateRequest is the body of POST /api/v1/validations
type ValidateRequest struct {
	Platform string `json:"platform" binding:"required"`
	Query    string `json:"query" binding:"required"`
}

// TranslateAllResponse reports per-platform results and failures
type TranslateAllResponse struct {
	Results map[entity.Platform]*entity.TranslationResult `json:"results"`
	Errors  map[entity.Platform]ErrorResponse             `json:"errors,omitempty"`
}

// ErrorResponse is the error envelope of every endpoint
type ErrorResponse struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// useCache defaults to true when the flag is omitted
func useCache(flag *bool) bool {
	return flag == nil || *flag
}
