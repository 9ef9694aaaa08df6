// Package transport holds the JSON request and response shapes of the pipeline API.
package transport

import (
	"fmt"
	"time"

	"ats_backend/internal/pipeline/dedupe"
	"ats_backend/internal/pipeline/domain"
	"ats_backend/internal/pipeline/facets"
	"ats_backend/internal/pipeline/intake"
	"ats_backend/platform/apperr"

	"github.com/google/uuid"
)

// Funnel scopes accepted by FunnelRequest.
const (
	ScopeRequisition = "requisition"
	ScopeEntries     = "entries"
	ScopeAging       = "aging"
	ScopeFacets      = "facets"
)

// FacetSelection maps facet names to the values selected for each.
type FacetSelection map[string][]string

// ToFacetMap parses facet names; unknown facets are a validation error.
func (f FacetSelection) ToFacetMap() (domain.FacetMap, error) {
	out := make(domain.FacetMap, len(f))
	for name, values := range f {
		facet, err := domain.ParseFacet(name)
		if err != nil {
			return nil, apperr.Validation(err.Error())
		}
		out[facet] = append(out[facet], values...)
	}
	return out, nil
}

// =====================================
// Requests
// =====================================

type CreateRequisitionRequest struct {
	Title string `json:"title" validate:"required,notblank,max=300"`
}

type AddCandidatesRequest struct {
	CandidateIDs []uuid.UUID `json:"candidateIds" validate:"required,min=1"`
	ListType     string      `json:"listType" validate:"omitempty,max=50"`
}

type AppendEventRequest struct {
	Stage string `json:"stage" validate:"required,notblank,max=100"`
	Note  string `json:"note" validate:"max=2000"`
}

type BatchAppendEventRequest struct {
	EntryIDs []uuid.UUID `json:"entryIds" validate:"required,min=1"`
	Stage    string      `json:"stage" validate:"required,notblank,max=100"`
	Note     string      `json:"note" validate:"max=2000"`
}

type EntryIDsRequest struct {
	EntryIDs []uuid.UUID `json:"entryIds" validate:"required,min=1"`
}

type CopyEntriesRequest struct {
	EntryIDs            []uuid.UUID `json:"entryIds" validate:"required,min=1"`
	TargetRequisitionID uuid.UUID   `json:"targetRequisitionId" validate:"required"`
}

// FunnelRequest selects the population a funnel is computed over.
// RequisitionID is used by every scope except "entries".
type FunnelRequest struct {
	Scope         string         `json:"scope" validate:"required,oneof=requisition entries aging facets"`
	RequisitionID uuid.UUID      `json:"requisitionId"`
	EntryIDs      []uuid.UUID    `json:"entryIds"`
	MinDays       float64        `json:"minDays" validate:"gte=0"`
	MaxDays       float64        `json:"maxDays" validate:"gte=0"`
	Facets        FacetSelection `json:"facets"`
}

// ToFilter converts the request into a population filter.
func (r FunnelRequest) ToFilter() (domain.PopulationFilter, error) {
	switch r.Scope {
	case ScopeRequisition:
		return domain.RequisitionScope{RequisitionID: r.RequisitionID}, nil
	case ScopeEntries:
		return domain.EntryIDs{IDs: r.EntryIDs}, nil
	case ScopeAging:
		return domain.AgingBucket{RequisitionID: r.RequisitionID, MinDays: r.MinDays, MaxDays: r.MaxDays}, nil
	case ScopeFacets:
		selection, err := r.Facets.ToFacetMap()
		if err != nil {
			return nil, err
		}
		return domain.FacetScope{RequisitionID: r.RequisitionID, Facets: selection}, nil
	}
	return nil, apperr.Validation(fmt.Sprintf("unknown funnel scope %q", r.Scope))
}

type IntersectFacetsRequest struct {
	Facets FacetSelection `json:"facets"`
}

type SuggestFacetValuesRequest struct {
	Target string         `json:"target" validate:"required,notblank"`
	Facets FacetSelection `json:"facets"`
	Prefix string         `json:"prefix" validate:"max=100"`
	Limit  int            `json:"limit" validate:"gte=0,lte=100"`
}

func (r SuggestFacetValuesRequest) TargetFacet() (domain.Facet, error) {
	facet, err := domain.ParseFacet(r.Target)
	if err != nil {
		return "", apperr.Validation(err.Error())
	}
	return facet, nil
}

type ExperienceRequest struct {
	Company        string     `json:"company" validate:"max=200"`
	Position       string     `json:"position" validate:"max=200"`
	Country        string     `json:"country" validate:"max=100"`
	Industry       string     `json:"industry" validate:"max=200"`
	CorporateGroup string     `json:"corporateGroup" validate:"max=200"`
	StartDate      *time.Time `json:"startDate"`
}

type CandidateRequest struct {
	Name        string              `json:"name" validate:"required,notblank,max=300"`
	ProfileLink string              `json:"profileLink" validate:"omitempty,max=500"`
	Experience  []ExperienceRequest `json:"experience" validate:"omitempty,max=100,dive"`
}

// ExperienceRecords converts the experience list to domain records.
func (r CandidateRequest) ExperienceRecords() []domain.ExperienceRecord {
	out := make([]domain.ExperienceRecord, 0, len(r.Experience))
	for _, x := range r.Experience {
		out = append(out, domain.ExperienceRecord{
			Company:        x.Company,
			Position:       x.Position,
			Country:        x.Country,
			Industry:       x.Industry,
			CorporateGroup: x.CorporateGroup,
			StartDate:      x.StartDate,
		})
	}
	return out
}

type DuplicateCheckRequest struct {
	Name        string `json:"name" validate:"max=300"`
	ProfileLink string `json:"profileLink" validate:"max=500"`
}

// =====================================
// Responses
// =====================================

type StageResponse struct {
	Name     string `json:"name"`
	Order    int    `json:"order"`
	Terminal bool   `json:"terminal"`
}

type EventResponse struct {
	LogID      int64     `json:"logId"`
	EntryID    uuid.UUID `json:"entryId"`
	Stage      string    `json:"stage"`
	Actor      string    `json:"actor"`
	OccurredAt string    `json:"occurredAt"`
	Note       string    `json:"note,omitempty"`
}

type StatusResponse struct {
	EntryID   uuid.UUID      `json:"entryId"`
	Stage     string         `json:"stage"`
	Source    string         `json:"source"`
	Known     bool           `json:"known"`
	Terminal  bool           `json:"terminal"`
	LastEvent *EventResponse `json:"lastEvent,omitempty"`
}

type EntryResponse struct {
	ID            uuid.UUID `json:"id"`
	RequisitionID uuid.UUID `json:"requisitionId"`
	CandidateID   uuid.UUID `json:"candidateId"`
	FallbackStage *string   `json:"fallbackStage,omitempty"`
	Rank          int       `json:"rank"`
	ListType      string    `json:"listType"`
	CreatedAt     time.Time `json:"createdAt"`
}

type RequisitionResponse struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

type CandidateResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	ProfileLink string    `json:"profileLink,omitempty"`
}

type IntakeRecordResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	ProfileLink string    `json:"profileLink,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// SelectionResponse is a facet intersection. Unrestricted means no facet
// was active; otherwise CandidateIDs is the exact, possibly empty, match.
type SelectionResponse struct {
	Unrestricted bool        `json:"unrestricted"`
	CandidateIDs []uuid.UUID `json:"candidateIds"`
}

type ValuesResponse struct {
	Values []string `json:"values"`
}

type RemovedResponse struct {
	Removed int `json:"removed"`
}

type DuplicateResponse = dedupe.Result

type FunnelResponse = domain.Funnel

func ToStageResponses(stages []domain.StageDefinition) []StageResponse {
	out := make([]StageResponse, 0, len(stages))
	for _, s := range stages {
		out = append(out, StageResponse{Name: s.Name, Order: s.Order, Terminal: s.Terminal})
	}
	return out
}

func ToEventResponse(e domain.StageEvent) EventResponse {
	return EventResponse{
		LogID:      e.LogID,
		EntryID:    e.EntryID,
		Stage:      e.StageName,
		Actor:      e.Actor,
		OccurredAt: e.OccurredAt,
		Note:       e.Note,
	}
}

func ToEventResponses(events []domain.StageEvent) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, ToEventResponse(e))
	}
	return out
}

func ToEntryResponses(entries []domain.Entry) []EntryResponse {
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryResponse{
			ID:            e.ID,
			RequisitionID: e.RequisitionID,
			CandidateID:   e.CandidateID,
			FallbackStage: e.FallbackStage,
			Rank:          e.Rank,
			ListType:      e.ListType,
			CreatedAt:     e.CreatedAt,
		})
	}
	return out
}

func ToRequisitionResponse(r domain.Requisition) RequisitionResponse {
	return RequisitionResponse{ID: r.ID, Title: r.Title, CreatedAt: r.CreatedAt}
}

func ToCandidateResponse(c domain.CandidateIdentity) CandidateResponse {
	return CandidateResponse{ID: c.ID, Name: c.Name, ProfileLink: c.ProfileLink}
}

func ToIntakeRecordResponse(r intake.Record) IntakeRecordResponse {
	return IntakeRecordResponse{ID: r.ID, Name: r.Name, ProfileLink: r.ProfileLink, EnqueuedAt: r.EnqueuedAt}
}

func ToSelectionResponse(s facets.Selection) SelectionResponse {
	ids := s.IDs()
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return SelectionResponse{Unrestricted: s.IsUnrestricted(), CandidateIDs: ids}
}
