// Package storage is the single source of truth for requests,
// connections and the user directory. Every state transition is one
// transaction scoped to the rows it touches; transitions that race with
// concurrent writers are conditional and report whether they won.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dranzer-17/TripSync/internal/models"
)

// Store defines the persistence operations used by the match engine,
// the connection coordinator and the HTTP layer.
type Store interface {
	// CreateRequest inserts r and, in the same transaction, cancels
	// any prior active request owned by the same user.
	CreateRequest(ctx context.Context, r *models.Request) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.Request, error)

	// ActiveCandidates returns active requests from other users in the
	// given affiliation group created at or after since, joined with
	// their owners.
	ActiveCandidates(ctx context.Context, collegeID int64, excludeOwner uuid.UUID, since time.Time) ([]models.Candidate, error)

	// ClaimMatch promotes the candidate and requester requests to
	// matched in one transaction. The candidate must still be active
	// and the requester active or matched; otherwise the claim is lost
	// and no row changes.
	ClaimMatch(ctx context.Context, requesterRequestID, candidateRequestID uuid.UUID) (bool, error)

	// UpdateRequestStatus conditionally moves a request to the given
	// status if its current status is one of from.
	UpdateRequestStatus(ctx context.Context, id uuid.UUID, from []models.RequestStatus, to models.RequestStatus) (bool, error)

	ConnectedRequestByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Request, error)

	// CreateConnection inserts a pending connection. A non-rejected
	// connection already covering the unordered request pair surfaces
	// as a conflict.
	CreateConnection(ctx context.Context, c *models.Connection) error
	GetConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error)

	// OpenConnectionForPair returns the pending or approved connection
	// covering the unordered (a, b) request pair, if any.
	OpenConnectionForPair(ctx context.Context, a, b uuid.UUID) (*models.Connection, error)

	CountPendingFromSender(ctx context.Context, senderRequestID uuid.UUID) (int, error)

	UpdateConnectionStatus(ctx context.Context, id uuid.UUID, from, to models.ConnectionStatus, respondedAt time.Time) (bool, error)

	// ApproveConnection marks the connection approved and both linked
	// requests connected in one transaction. Returns false without
	// changes if the connection is no longer pending or either request
	// left a connectable status.
	ApproveConnection(ctx context.Context, connectionID, senderRequestID, receiverRequestID uuid.UUID) (bool, error)

	// SeverConnection marks an approved connection rejected and forces
	// the partner request to cancelled in one transaction.
	SeverConnection(ctx context.Context, connectionID, partnerRequestID uuid.UUID) (bool, error)

	// RejectPendingForRequest rejects every pending connection that
	// references the request on either side and returns the affected
	// connections.
	RejectPendingForRequest(ctx context.Context, requestID uuid.UUID) ([]models.Connection, error)

	ApprovedConnectionForRequest(ctx context.Context, requestID uuid.UUID) (*models.Connection, error)

	// GetUser resolves an identity from the user directory. Returns
	// nil when unknown.
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}
