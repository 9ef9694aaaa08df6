package domain

import (
	"ats_backend/platform/apperr"

	"github.com/google/uuid"
)

// PopulationFilter selects the entries a funnel is computed over.
// The variants are RequisitionScope, EntryIDs, AgingBucket and FacetScope.
type PopulationFilter interface {
	Validate() error
	isPopulationFilter()
}

// RequisitionScope selects every entry of one requisition.
type RequisitionScope struct {
	RequisitionID uuid.UUID
}

// EntryIDs selects an explicit set of entries.
type EntryIDs struct {
	IDs []uuid.UUID
}

// AgingBucket selects a requisition's entries whose time in their current
// stage lies in [MinDays, MaxDays). MaxDays of zero leaves the bucket open.
type AgingBucket struct {
	RequisitionID uuid.UUID
	MinDays       float64
	MaxDays       float64
}

// FacetScope selects a requisition's entries whose candidate matches
// every active facet.
type FacetScope struct {
	RequisitionID uuid.UUID
	Facets        FacetMap
}

func (RequisitionScope) isPopulationFilter() {}
func (EntryIDs) isPopulationFilter()         {}
func (AgingBucket) isPopulationFilter()      {}
func (FacetScope) isPopulationFilter()       {}

func (f RequisitionScope) Validate() error {
	if f.RequisitionID == uuid.Nil {
		return apperr.Validation("requisition id is required")
	}
	return nil
}

func (f EntryIDs) Validate() error {
	if len(f.IDs) == 0 {
		return apperr.Validation("at least one entry id is required")
	}
	return nil
}

func (f AgingBucket) Validate() error {
	if f.RequisitionID == uuid.Nil {
		return apperr.Validation("requisition id is required")
	}
	if f.MinDays < 0 || f.MaxDays < 0 {
		return apperr.Validation("aging bucket bounds must not be negative")
	}
	if f.MaxDays > 0 && f.MaxDays <= f.MinDays {
		return apperr.Validation("aging bucket max must exceed min")
	}
	return nil
}

// Contains reports whether an entry aged daysInStage falls in the bucket.
func (f AgingBucket) Contains(daysInStage float64) bool {
	if daysInStage < f.MinDays {
		return false
	}
	return f.MaxDays == 0 || daysInStage < f.MaxDays
}

func (f FacetScope) Validate() error {
	if f.RequisitionID == uuid.Nil {
		return apperr.Validation("requisition id is required")
	}
	return nil
}
