// Package dedupe detects whether an incoming candidate is already known,
// either in the candidate store or in the in-flight intake queue.
//
// The detector fails open: a lookup that errors is logged and counted and
// the record is treated as new.
package dedupe

import (
	"context"
	"slices"
	"strings"

	"ats_backend/internal/pipeline/domain"
	"ats_backend/internal/pipeline/metrics"
	"ats_backend/internal/pipeline/repository"
	"ats_backend/platform/logger"
	"ats_backend/platform/normalize"

	"github.com/google/uuid"
)

// Match reasons and sources.
const (
	ReasonName        = "name"
	ReasonProfileLink = "profile_link"

	SourceStore = "store"
	SourceQueue = "queue"
)

const defaultCandidateLimit = 25

// IdentityStore finds coarse identity candidates in the persisted store.
type IdentityStore interface {
	FindIdentityCandidates(ctx context.Context, query repository.CoarseQuery) ([]domain.CandidateIdentity, error)
}

// QueueStore lists the records currently waiting in the intake queue,
// oldest first.
type QueueStore interface {
	ListQueued(ctx context.Context) ([]domain.CandidateIdentity, error)
}

// Match describes the known identity an incoming record collides with.
type Match struct {
	CandidateID uuid.UUID `json:"candidateId"`
	Name        string    `json:"name"`
	ProfileLink string    `json:"profileLink,omitempty"`
	Reason      string    `json:"reason"`
	Source      string    `json:"source"`
}

// Result is the outcome of a duplicate check.
type Result struct {
	IsDuplicate bool   `json:"isDuplicate"`
	Match       *Match `json:"match,omitempty"`
}

// Detector applies the identity match rule: equal normalized names, or
// equal normalized links on a recognized professional network.
type Detector struct {
	identities IdentityStore
	queue      QueueStore
	log        *logger.Logger
	metrics    *metrics.Metrics
	limit      int
}

// New creates a Detector. queue may be nil when no intake queue is configured.
func New(identities IdentityStore, queue QueueStore, log *logger.Logger, m *metrics.Metrics) *Detector {
	return &Detector{
		identities: identities,
		queue:      queue,
		log:        log,
		metrics:    m,
		limit:      defaultCandidateLimit,
	}
}

// fingerprint is an incoming record in normalized form.
type fingerprint struct {
	name       string
	link       string
	recognized bool
}

func newFingerprint(name, profileLink string) fingerprint {
	p := fingerprint{name: normalize.Name(name)}
	if strings.TrimSpace(profileLink) != "" {
		p.link = normalize.ProfileLink(profileLink)
		// a bare network host identifies nobody
		p.recognized = normalize.IsProfessionalNetwork(p.link) && strings.Contains(p.link, "/")
	}
	return p
}

func (p fingerprint) empty() bool { return p.name == "" && !p.recognized }

// coarse derives a cheap store query that over-approximates the exact rule.
func (p fingerprint) coarse(limit int) repository.CoarseQuery {
	q := repository.CoarseQuery{Limit: limit}
	if p.name != "" {
		tokens := strings.Fields(p.name)
		q.NameToken = slices.MaxFunc(tokens, func(a, b string) int { return len(a) - len(b) })
		q.FullName = p.name
	}
	if p.recognized {
		q.LinkFragment = strings.TrimPrefix(p.link, normalize.Host(p.link))
	}
	return q
}

// match applies the exact rule. Name equality takes precedence over link
// equality across all candidates.
func (p fingerprint) match(candidates []domain.CandidateIdentity, exclude uuid.UUID, source string) *Match {
	if p.name != "" {
		for _, c := range candidates {
			if c.ID != exclude && normalize.Name(c.Name) == p.name {
				return newMatch(c, ReasonName, source)
			}
		}
	}
	if p.recognized {
		for _, c := range candidates {
			if c.ID != exclude && c.ProfileLink != "" && normalize.ProfileLink(c.ProfileLink) == p.link {
				return newMatch(c, ReasonProfileLink, source)
			}
		}
	}
	return nil
}

func newMatch(c domain.CandidateIdentity, reason, source string) *Match {
	return &Match{CandidateID: c.ID, Name: c.Name, ProfileLink: c.ProfileLink, Reason: reason, Source: source}
}

// Check matches against the persisted candidate store.
func (d *Detector) Check(ctx context.Context, name, profileLink string) Result {
	p := newFingerprint(name, profileLink)
	if p.empty() {
		return Result{}
	}
	if m := d.checkStore(ctx, p, uuid.Nil); m != nil {
		return Result{IsDuplicate: true, Match: m}
	}
	return Result{}
}

// CheckQueued matches against the store and then the intake queue. When
// recordID is queued, only records enqueued before it count, so of two
// identical queued records the older one can always be promoted.
func (d *Detector) CheckQueued(ctx context.Context, recordID uuid.UUID, name, profileLink string) Result {
	p := newFingerprint(name, profileLink)
	if p.empty() {
		return Result{}
	}
	if m := d.checkStore(ctx, p, recordID); m != nil {
		return Result{IsDuplicate: true, Match: m}
	}
	if m := d.checkQueue(ctx, p, recordID); m != nil {
		return Result{IsDuplicate: true, Match: m}
	}
	return Result{}
}

func (d *Detector) checkStore(ctx context.Context, p fingerprint, exclude uuid.UUID) *Match {
	if d.identities == nil {
		return nil
	}
	candidates, err := d.identities.FindIdentityCandidates(ctx, p.coarse(d.limit))
	if err != nil {
		d.failOpen(ctx, SourceStore, err)
		return nil
	}
	return p.match(candidates, exclude, SourceStore)
}

func (d *Detector) checkQueue(ctx context.Context, p fingerprint, exclude uuid.UUID) *Match {
	if d.queue == nil {
		return nil
	}
	queued, err := d.queue.ListQueued(ctx)
	if err != nil {
		d.failOpen(ctx, SourceQueue, err)
		return nil
	}
	if i := slices.IndexFunc(queued, func(c domain.CandidateIdentity) bool { return c.ID == exclude }); i >= 0 {
		queued = queued[:i]
	}
	return p.match(queued, exclude, SourceQueue)
}

func (d *Detector) failOpen(ctx context.Context, source string, err error) {
	if d.log != nil {
		d.log.WithContext(ctx).DuplicateCheckFailed(source, err)
	}
	d.metrics.IncrementDuplicateFailOpen(source)
}
