package handler

import (
	"net/http"

	"ats_backend/internal/pipeline/service"
	"ats_backend/internal/pipeline/transport"
	"ats_backend/platform/httpkit"
	"ats_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid id"

	// RoleAdmin may remove entries together with their history.
	RoleAdmin = "admin"
)

// Handler handles HTTP requests for the candidate pipeline.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new pipeline handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the pipeline routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stages", h.ListStages)
	rg.POST("/funnel", h.GetFunnel)

	rg.POST("/requisitions", h.CreateRequisition)
	rg.POST("/requisitions/:id/candidates", h.AddCandidates)

	rg.GET("/entries/:id/status", h.GetStatus)
	rg.GET("/entries/:id/history", h.GetHistory)
	rg.POST("/entries/:id/events", h.AppendEvent)
	rg.POST("/entries/events", h.BatchAppendEvent)
	rg.POST("/entries/remove", httpkit.RequireRole(RoleAdmin), h.RemoveEntries)
	rg.POST("/entries/copy", h.CopyEntries)

	rg.POST("/facets/intersect", h.IntersectFacets)
	rg.POST("/facets/suggest", h.SuggestFacetValues)

	rg.POST("/candidates", h.RegisterCandidate)
	rg.POST("/candidates/check-duplicate", h.CheckDuplicate)

	rg.POST("/intake", h.EnqueueCandidate)
	rg.POST("/intake/:id/check-duplicate", h.CheckQueuedDuplicate)
	rg.POST("/intake/:id/promote", h.PromoteQueued)
}

// bind decodes and validates the JSON body, writing the 400 response itself.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return false
	}
	return true
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) ListStages(c *gin.Context) {
	stages, err := h.svc.ListStages(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"stages": transport.ToStageResponses(stages), "defaultStage": h.svc.DefaultStage()})
}

func (h *Handler) GetFunnel(c *gin.Context) {
	var req transport.FunnelRequest
	if !h.bind(c, &req) {
		return
	}
	filter, err := req.ToFilter()
	if httpkit.HandleError(c, err) {
		return
	}

	funnel, err := h.svc.GetFunnel(c.Request.Context(), filter)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.FunnelResponse(funnel))
}

func (h *Handler) CreateRequisition(c *gin.Context) {
	var req transport.CreateRequisitionRequest
	if !h.bind(c, &req) {
		return
	}
	created, err := h.svc.CreateRequisition(c.Request.Context(), req.Title)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, transport.ToRequisitionResponse(created))
}

func (h *Handler) AddCandidates(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req transport.AddCandidatesRequest
	if !h.bind(c, &req) {
		return
	}

	entries, err := h.svc.AddCandidates(c.Request.Context(), id, req.CandidateIDs, req.ListType)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, gin.H{"entries": transport.ToEntryResponses(entries)})
}

func (h *Handler) GetStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.svc.ResolveStatus(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.StatusResponse{
		EntryID:  view.EntryID,
		Stage:    view.Stage,
		Source:   view.Source,
		Known:    view.Known,
		Terminal: view.Terminal,
	}
	if view.LastEvent != nil {
		last := transport.ToEventResponse(*view.LastEvent)
		resp.LastEvent = &last
	}
	httpkit.OK(c, resp)
}

func (h *Handler) GetHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	events, err := h.svc.History(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"events": transport.ToEventResponses(events)})
}

func (h *Handler) AppendEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	var req transport.AppendEventRequest
	if !h.bind(c, &req) {
		return
	}

	event, err := h.svc.AppendStatusEvent(c.Request.Context(), id, req.Stage, identity.Actor(), req.Note)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, transport.ToEventResponse(event))
}

func (h *Handler) BatchAppendEvent(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	var req transport.BatchAppendEventRequest
	if !h.bind(c, &req) {
		return
	}

	events, err := h.svc.BatchAppendStatusEvent(c.Request.Context(), req.EntryIDs, req.Stage, identity.Actor(), req.Note)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, gin.H{"events": transport.ToEventResponses(events)})
}

func (h *Handler) RemoveEntries(c *gin.Context) {
	var req transport.EntryIDsRequest
	if !h.bind(c, &req) {
		return
	}
	removed, err := h.svc.RemoveEntries(c.Request.Context(), req.EntryIDs)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.RemovedResponse{Removed: removed})
}

func (h *Handler) CopyEntries(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	var req transport.CopyEntriesRequest
	if !h.bind(c, &req) {
		return
	}

	entries, err := h.svc.CopyEntries(c.Request.Context(), req.EntryIDs, req.TargetRequisitionID, identity.Actor())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, gin.H{"entries": transport.ToEntryResponses(entries)})
}

func (h *Handler) IntersectFacets(c *gin.Context) {
	var req transport.IntersectFacetsRequest
	if !h.bind(c, &req) {
		return
	}
	selection, err := req.Facets.ToFacetMap()
	if httpkit.HandleError(c, err) {
		return
	}

	result, err := h.svc.IntersectFacets(c.Request.Context(), selection)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToSelectionResponse(result))
}

func (h *Handler) SuggestFacetValues(c *gin.Context) {
	var req transport.SuggestFacetValuesRequest
	if !h.bind(c, &req) {
		return
	}
	selection, err := req.Facets.ToFacetMap()
	if httpkit.HandleError(c, err) {
		return
	}
	target, err := req.TargetFacet()
	if httpkit.HandleError(c, err) {
		return
	}

	values, err := h.svc.SuggestFacetValues(c.Request.Context(), target, selection, req.Prefix, req.Limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ValuesResponse{Values: values})
}

func (h *Handler) RegisterCandidate(c *gin.Context) {
	var req transport.CandidateRequest
	if !h.bind(c, &req) {
		return
	}
	created, err := h.svc.RegisterCandidate(c.Request.Context(), service.CandidateInput{
		Name:        req.Name,
		ProfileLink: req.ProfileLink,
		Experience:  req.ExperienceRecords(),
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, transport.ToCandidateResponse(created))
}

func (h *Handler) CheckDuplicate(c *gin.Context) {
	var req transport.DuplicateCheckRequest
	if !h.bind(c, &req) {
		return
	}
	result, err := h.svc.CheckDuplicate(c.Request.Context(), req.Name, req.ProfileLink)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.DuplicateResponse(result))
}

func (h *Handler) EnqueueCandidate(c *gin.Context) {
	var req transport.CandidateRequest
	if !h.bind(c, &req) {
		return
	}
	record, err := h.svc.EnqueueCandidate(c.Request.Context(), service.CandidateInput{
		Name:        req.Name,
		ProfileLink: req.ProfileLink,
		Experience:  req.ExperienceRecords(),
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, transport.ToIntakeRecordResponse(record))
}

func (h *Handler) CheckQueuedDuplicate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req transport.DuplicateCheckRequest
	if !h.bind(c, &req) {
		return
	}
	result, err := h.svc.CheckQueuedDuplicate(c.Request.Context(), id, req.Name, req.ProfileLink)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.DuplicateResponse(result))
}

func (h *Handler) PromoteQueued(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	created, err := h.svc.PromoteQueued(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, transport.ToCandidateResponse(created))
}
