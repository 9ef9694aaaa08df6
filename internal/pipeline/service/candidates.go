package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"ats_backend/internal/pipeline/domain"
	"ats_backend/internal/pipeline/intake"
	"ats_backend/internal/pipeline/repository"
	"ats_backend/platform/apperr"
	"ats_backend/platform/sanitize"

	"github.com/google/uuid"
)

// CandidateInput is an incoming candidate identity with experience history.
type CandidateInput struct {
	Name        string
	ProfileLink string
	Experience  []domain.ExperienceRecord
}

func (in CandidateInput) normalized(op string) (CandidateInput, error) {
	in.Name = sanitize.Text(in.Name)
	in.ProfileLink = strings.TrimSpace(in.ProfileLink)
	if in.Name == "" {
		return CandidateInput{}, apperr.Validation("candidate name is required").WithOp(op)
	}
	experience := make([]domain.ExperienceRecord, 0, len(in.Experience))
	for _, x := range in.Experience {
		x.Company = sanitize.Text(x.Company)
		x.Position = sanitize.Text(x.Position)
		x.Country = sanitize.Text(x.Country)
		x.Industry = sanitize.Text(x.Industry)
		x.CorporateGroup = sanitize.Text(x.CorporateGroup)
		experience = append(experience, x)
	}
	in.Experience = experience
	return in, nil
}

func duplicateConflict(op string, match any) error {
	return apperr.Conflict("candidate already exists").WithOp(op).WithDetails(match)
}

// RegisterCandidate stores a new candidate unless it duplicates a known one.
func (s *Service) RegisterCandidate(ctx context.Context, in CandidateInput) (candidate domain.CandidateIdentity, err error) {
	const op = "pipeline.RegisterCandidate"
	defer s.observe("RegisterCandidate", time.Now(), &err)

	if in, err = in.normalized(op); err != nil {
		return domain.CandidateIdentity{}, err
	}
	if res := s.detector.Check(ctx, in.Name, in.ProfileLink); res.IsDuplicate {
		return domain.CandidateIdentity{}, duplicateConflict(op, res.Match)
	}

	candidate, err = s.repo.CreateCandidate(ctx, repository.CreateCandidateParams{
		Name:        in.Name,
		ProfileLink: in.ProfileLink,
		Experience:  in.Experience,
	})
	if err != nil {
		return domain.CandidateIdentity{}, s.storeErr(op, "candidate", err)
	}
	return candidate, nil
}

// EnqueueCandidate puts an incoming record on the intake queue.
func (s *Service) EnqueueCandidate(ctx context.Context, in CandidateInput) (record intake.Record, err error) {
	const op = "pipeline.EnqueueCandidate"
	defer s.observe("EnqueueCandidate", time.Now(), &err)

	if in, err = in.normalized(op); err != nil {
		return intake.Record{}, err
	}
	record = intake.Record{
		ID:          uuid.New(),
		Name:        in.Name,
		ProfileLink: in.ProfileLink,
		Experience:  in.Experience,
		EnqueuedAt:  s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, record); err != nil {
		return intake.Record{}, apperr.Store("enqueue candidate", err).WithOp(op)
	}
	return record, nil
}

// PromoteQueued commits a queued record to the candidate store after
// checking it against the store and the records queued before it.
func (s *Service) PromoteQueued(ctx context.Context, recordID uuid.UUID) (candidate domain.CandidateIdentity, err error) {
	const op = "pipeline.PromoteQueued"
	defer s.observe("PromoteQueued", time.Now(), &err)

	if recordID == uuid.Nil {
		return domain.CandidateIdentity{}, apperr.Validation("record id is required").WithOp(op)
	}
	record, err := s.queue.Get(ctx, recordID)
	if err != nil {
		return domain.CandidateIdentity{}, queueErr(op, err)
	}
	if res := s.detector.CheckQueued(ctx, record.ID, record.Name, record.ProfileLink); res.IsDuplicate {
		return domain.CandidateIdentity{}, duplicateConflict(op, res.Match)
	}

	if _, err := s.queue.Claim(ctx, recordID); err != nil {
		return domain.CandidateIdentity{}, queueErr(op, err)
	}
	candidate, err = s.repo.CreateCandidate(ctx, repository.CreateCandidateParams{
		Name:        record.Name,
		ProfileLink: record.ProfileLink,
		Experience:  record.Experience,
	})
	if err != nil {
		if requeueErr := s.queue.Enqueue(ctx, record); requeueErr != nil {
			s.log.WithContext(ctx).Error("requeue after failed promotion", "record_id", record.ID, "error", requeueErr)
		}
		return domain.CandidateIdentity{}, s.storeErr(op, "candidate", err)
	}
	return candidate, nil
}

func queueErr(op string, err error) error {
	if errors.Is(err, intake.ErrNotQueued) {
		return apperr.NotFound("queued record not found").WithOp(op)
	}
	return apperr.Store("intake queue", err).WithOp(op)
}
