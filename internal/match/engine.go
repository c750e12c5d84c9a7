// Package match implements the two-stage geospatial match engine:
// candidates from the store, two batched distance-oracle filters, then
// a conditional claim of every surviving pair.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dranzer-17/TripSync/internal/apperr"
	"github.com/dranzer-17/TripSync/internal/hub"
	"github.com/dranzer-17/TripSync/internal/ingest"
	"github.com/dranzer-17/TripSync/internal/models"
	"github.com/dranzer-17/TripSync/internal/observability"
	"github.com/dranzer-17/TripSync/internal/oracle"
)

// Store is the slice of persistence the engine needs.
type Store interface {
	CreateRequest(ctx context.Context, r *models.Request) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.Request, error)
	ActiveCandidates(ctx context.Context, collegeID int64, excludeOwner uuid.UUID, since time.Time) ([]models.Candidate, error)
	ClaimMatch(ctx context.Context, requesterRequestID, candidateRequestID uuid.UUID) (bool, error)
}

// Notifier pushes an event to a user's live channel, best-effort.
type Notifier interface {
	Send(userID uuid.UUID, event any)
}

// Publisher emits pool lifecycle events for analytics.
type Publisher interface {
	Publish(ctx context.Context, evt ingest.PoolEvent) error
}

type Engine struct {
	Store  Store
	Oracle oracle.Oracle
	Notify Notifier
	Events Publisher // optional
	Logger *slog.Logger

	StartRadiusM float64
	DestRadiusM  float64
	Freshness    time.Duration
}

// CreateRequestAndMatch records a new ride request for the requester
// (cancelling their prior active one) and immediately searches for
// matches. The returned views are masked: no contact fields before a
// connection is approved.
func (e *Engine) CreateRequestAndMatch(ctx context.Context, requester *models.User, start, dest models.Coord, destLabel string) (*models.Request, []models.MatchedUser, error) {
	if !start.Valid() || !dest.Valid() {
		return nil, nil, apperr.Validation("coordinates out of range")
	}

	req := &models.Request{
		ID:        uuid.New(),
		OwnerID:   requester.ID,
		Status:    models.RequestActive,
		Start:     start,
		Dest:      dest,
		DestLabel: destLabel,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.Store.CreateRequest(ctx, req); err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	e.publish(ctx, ingest.EventRequestCreated, req.ID, requester)

	promoted, err := e.FindMatches(ctx, req, requester)
	if err != nil {
		return nil, nil, err
	}

	matches := make([]models.MatchedUser, 0, len(promoted))
	for _, c := range promoted {
		matches = append(matches, models.MaskedView(c.Owner, c.Request.ID))
	}
	return req, matches, nil
}

// FindMatches runs the two-stage search for a request that must still
// be active, promotes every surviving candidate pair to matched with a
// conditional claim, and pushes match_found to each candidate's live
// channel. Individual oracle failures only degrade the candidate set;
// the search itself never fails because of them.
func (e *Engine) FindMatches(ctx context.Context, req *models.Request, requester *models.User) ([]models.Candidate, error) {
	if req.Status != models.RequestActive {
		return nil, nil
	}

	start := time.Now()
	defer func() {
		observability.MatchSearchDuration.Observe(time.Since(start).Seconds())
	}()

	since := time.Now().UTC().Add(-e.Freshness)
	cands, err := e.Store.ActiveCandidates(ctx, requester.CollegeID, requester.ID, since)
	if err != nil {
		return nil, fmt.Errorf("loading candidates: %w", err)
	}
	if len(cands) == 0 {
		return nil, nil
	}

	cands = e.filterStage(ctx, "start", req.Start, cands, e.StartRadiusM,
		func(c models.Candidate) models.Coord { return c.Request.Start })
	if len(cands) == 0 {
		return nil, nil
	}

	cands = e.filterStage(ctx, "dest", req.Dest, cands, e.DestRadiusM,
		func(c models.Candidate) models.Coord { return c.Request.Dest })

	var promoted []models.Candidate
	for _, cand := range cands {
		ok, err := e.Store.ClaimMatch(ctx, req.ID, cand.Request.ID)
		if err != nil {
			e.Logger.Error("match claim failed", "request_id", req.ID, "candidate_id", cand.Request.ID, "error", err)
			continue
		}
		if !ok {
			// candidate claimed elsewhere or requester left a live status
			continue
		}
		observability.MatchesTotal.Inc()
		promoted = append(promoted, cand)

		e.Notify.Send(cand.Owner.ID, hub.NewMatchFound(models.MaskedView(*requester, req.ID)))
		e.publish(ctx, ingest.EventMatchFound, cand.Request.ID, &cand.Owner)
	}
	if len(promoted) > 0 {
		req.Status = models.RequestMatched
	}
	return promoted, nil
}

// filterStage asks the oracle for one batched distance row and keeps
// the candidates within radius. A nil distance, a short row, or a
// failed call excludes candidates rather than failing the search.
func (e *Engine) filterStage(ctx context.Context, stage string, origin models.Coord, cands []models.Candidate, radiusM float64, coord func(models.Candidate) models.Coord) []models.Candidate {
	dests := make([]models.Coord, len(cands))
	for i, c := range cands {
		dests[i] = coord(c)
	}

	dists, err := e.Oracle.DistanceMatrix(ctx, origin, dests)
	if err != nil {
		e.Logger.Warn("distance oracle unavailable, excluding all candidates for stage",
			"stage", stage, "candidates", len(cands), "error", err)
		return nil
	}

	kept := make([]models.Candidate, 0, len(cands))
	for i, c := range cands {
		if i >= len(dists) || dists[i] == nil {
			continue
		}
		if *dists[i] <= radiusM {
			kept = append(kept, c)
		}
	}
	return kept
}

func (e *Engine) publish(ctx context.Context, eventType string, requestID uuid.UUID, u *models.User) {
	if e.Events == nil {
		return
	}
	evt := ingest.PoolEvent{Type: eventType, RequestID: requestID, UserID: u.ID, CollegeID: u.CollegeID}
	if err := e.Events.Publish(ctx, evt); err != nil {
		e.Logger.Warn("pool event publish failed", "type", eventType, "error", err)
	}
}
