// Package pipeline provides the candidate pipeline bounded context module.
// This file defines the module that encapsulates pipeline setup and route registration.
package pipeline

import (
	apphttp "ats_backend/internal/http"
	"ats_backend/internal/pipeline/handler"
	"ats_backend/internal/pipeline/service"
	"ats_backend/platform/validator"
)

// Module is the pipeline bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the pipeline module around an assembled service.
func NewModule(svc *service.Service, val *validator.Validator) *Module {
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "pipeline"
}

// Service exposes the pipeline service for other modules.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts every pipeline route behind authentication.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/pipeline"))
}

var _ apphttp.Module = (*Module)(nil)
