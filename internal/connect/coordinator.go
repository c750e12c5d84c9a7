// Package connect manages the handshake between two matched requests:
// send, approve, reject and cascading cancellation. Approval is the
// only point at which contact fields are disclosed.
package connect

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
	"github.com/dranzer-17/TripSync/internal/storage"
)

const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Notifier pushes an event to a user's live channel, best-effort.
type Notifier interface {
	Send(userID uuid.UUID, event any)
}

// Publisher emits pool lifecycle events for analytics.
type Publisher interface {
	Publish(ctx context.Context, evt ingest.PoolEvent) error
}

type Coordinator struct {
	Store  storage.Store
	Notify Notifier
	Events Publisher // optional
	Logger *slog.Logger

	MaxPending int
}

// Send creates a pending connection from the sender's request to the
// receiver's. The sender must own the sender request and it must be
// open for connections (active or matched). At most one non-rejected
// connection may cover an unordered request pair, and a sender request
// carries at most MaxPending outstanding pending connections.
func (c *Coordinator) Send(ctx context.Context, senderRequestID, receiverRequestID uuid.UUID, sender *models.User) (*models.Connection, error) {
	sr, err := c.Store.GetRequest(ctx, senderRequestID)
	if err != nil {
		return nil, fmt.Errorf("loading sender request: %w", err)
	}
	if sr == nil {
		return nil, apperr.NotFound("sender request")
	}
	if sr.OwnerID != sender.ID {
		return nil, apperr.Forbidden("you do not own this request")
	}
	if !sr.Status.CanTransition(models.RequestConnected) {
		return nil, apperr.Conflict("request is not open for connections")
	}

	rr, err := c.Store.GetRequest(ctx, receiverRequestID)
	if err != nil {
		return nil, fmt.Errorf("loading receiver request: %w", err)
	}
	if rr == nil {
		return nil, apperr.NotFound("target request")
	}
	if rr.OwnerID == sender.ID {
		return nil, apperr.Validation("cannot connect to your own request")
	}

	existing, err := c.Store.OpenConnectionForPair(ctx, senderRequestID, receiverRequestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("a connection for this request pair is already pending or approved")
	}

	pending, err := c.Store.CountPendingFromSender(ctx, senderRequestID)
	if err != nil {
		return nil, err
	}
	if pending >= c.MaxPending {
		return nil, apperr.Conflict("pending connection limit reached")
	}

	conn := &models.Connection{
		ID:                uuid.New(),
		SenderRequestID:   senderRequestID,
		ReceiverRequestID: receiverRequestID,
		Status:            models.ConnectionPending,
		CreatedAt:         time.Now().UTC(),
	}
	// the pair uniqueness index backstops the racing double-send; the
	// store surfaces that as a conflict
	if err := c.Store.CreateConnection(ctx, conn); err != nil {
		return nil, err
	}
	observability.ConnectionsTotal.WithLabelValues("sent").Inc()
	c.publish(ctx, ingest.EventConnectionSent, senderRequestID, sender)

	// the receiver's event needs only the sender, already in hand;
	// the sender's ack degrades to the bare request id if the receiver
	// profile cannot be loaded
	c.Notify.Send(rr.OwnerID, hub.NewConnectionRequestReceived(conn.ID, models.MaskedView(*sender, sr.ID)))

	ack := models.MatchedUser{RequestID: rr.ID}
	if receiver, err := c.Store.GetUser(ctx, rr.OwnerID); err != nil {
		c.Logger.Warn("receiver lookup failed for send ack", "connection_id", conn.ID, "error", err)
	} else if receiver != nil {
		ack = models.MaskedView(*receiver, rr.ID)
	}
	c.Notify.Send(sender.ID, hub.NewConnectionRequestSent(conn.ID, ack))

	return conn, nil
}

// Respond resolves a pending connection. Only the owner of the
// receiver-side request may respond. Approval connects both requests
// and discloses full partner detail to both parties; rejection leaves
// both requests at their prior status.
func (c *Coordinator) Respond(ctx context.Context, connectionID uuid.UUID, action string, responder *models.User) (*models.Connection, error) {
	if action != ActionApprove && action != ActionReject {
		return nil, apperr.Validation(fmt.Sprintf("unrecognized action %q", action))
	}

	conn, err := c.Store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("loading connection: %w", err)
	}
	if conn == nil {
		return nil, apperr.NotFound("connection")
	}

	rr, err := c.Store.GetRequest(ctx, conn.ReceiverRequestID)
	if err != nil {
		return nil, err
	}
	if rr == nil {
		return nil, apperr.NotFound("receiver request")
	}
	if rr.OwnerID != responder.ID {
		return nil, apperr.Forbidden("only the request receiver can respond")
	}
	if conn.Status != models.ConnectionPending {
		return nil, apperr.Conflict("connection already responded")
	}

	sr, err := c.Store.GetRequest(ctx, conn.SenderRequestID)
	if err != nil {
		return nil, err
	}
	if sr == nil {
		return nil, apperr.NotFound("sender request")
	}
	senderUser, err := c.Store.GetUser(ctx, sr.OwnerID)
	if err != nil {
		return nil, err
	}
	if senderUser == nil {
		return nil, apperr.NotFound("sender user")
	}

	switch action {
	case ActionApprove:
		ok, err := c.Store.ApproveConnection(ctx, conn.ID, conn.SenderRequestID, conn.ReceiverRequestID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Conflict("connection already responded")
		}
		observability.ConnectionsTotal.WithLabelValues("approved").Inc()
		c.publish(ctx, ingest.EventConnectionApproved, rr.ID, responder)

		// disclosure point: full partner detail, both directions
		c.Notify.Send(sr.OwnerID, hub.NewConnectionApproved(conn.ID, sr.ID, models.FullView(*responder, rr.ID)))
		c.Notify.Send(rr.OwnerID, hub.NewConnectionApproved(conn.ID, rr.ID, models.FullView(*senderUser, sr.ID)))

	case ActionReject:
		ok, err := c.Store.UpdateConnectionStatus(ctx, conn.ID, models.ConnectionPending, models.ConnectionRejected, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Conflict("connection already responded")
		}
		observability.ConnectionsTotal.WithLabelValues("rejected").Inc()
		c.publish(ctx, ingest.EventConnectionRejected, rr.ID, responder)

		c.Notify.Send(sr.OwnerID, hub.NewConnectionRejected(conn.ID, models.MaskedView(*responder, rr.ID)))
	}

	return c.Store.GetConnection(ctx, connectionID)
}

// ActiveConnection locates the caller's connected request and the
// approved connection on it. Returns nil when the caller has none.
func (c *Coordinator) ActiveConnection(ctx context.Context, user *models.User) (*models.ConnectionView, error) {
	req, err := c.Store.ConnectedRequestByOwner(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, nil
	}
	conn, err := c.Store.ApprovedConnectionForRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, nil
	}

	partnerRequestID := conn.Other(req.ID)
	partnerReq, err := c.Store.GetRequest(ctx, partnerRequestID)
	if err != nil {
		return nil, err
	}
	if partnerReq == nil {
		return nil, apperr.NotFound("partner request")
	}
	partner, err := c.Store.GetUser(ctx, partnerReq.OwnerID)
	if err != nil {
		return nil, err
	}
	if partner == nil {
		return nil, apperr.NotFound("partner user")
	}

	return &models.ConnectionView{
		ID:            conn.ID,
		Status:        conn.Status,
		CreatedAt:     conn.CreatedAt,
		UserRequestID: req.ID,
		Partner:       models.FullView(*partner, partnerRequestID),
	}, nil
}

// CancelRequest cancels the actor's request. A connected request first
// severs its approved connection, forcing the partner request to
// cancelled and notifying the partner. Every pending connection that
// references the request on either side is rejected before the request
// itself closes.
func (c *Coordinator) CancelRequest(ctx context.Context, requestID uuid.UUID, actor *models.User) error {
	req, err := c.Store.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("loading request: %w", err)
	}
	if req == nil {
		return apperr.NotFound("request")
	}
	if req.OwnerID != actor.ID {
		return apperr.Forbidden("you do not own this request")
	}
	if req.Status == models.RequestCancelled {
		return nil
	}
	if req.Status.Terminal() {
		return apperr.Conflict("request already completed")
	}

	if req.Status == models.RequestConnected {
		conn, err := c.Store.ApprovedConnectionForRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		if conn != nil {
			partnerRequestID := conn.Other(req.ID)
			ok, err := c.Store.SeverConnection(ctx, conn.ID, partnerRequestID)
			if err != nil {
				return err
			}
			if ok {
				c.notifyPartnerCancelled(ctx, partnerRequestID, req.ID, actor)
			}
		}
	}

	if _, err := c.Store.RejectPendingForRequest(ctx, req.ID); err != nil {
		return err
	}

	if _, err := c.Store.UpdateRequestStatus(ctx, req.ID,
		[]models.RequestStatus{models.RequestActive, models.RequestMatched, models.RequestConnected},
		models.RequestCancelled,
	); err != nil {
		return err
	}
	observability.ConnectionsTotal.WithLabelValues("cancelled").Inc()
	c.publish(ctx, ingest.EventRequestCancelled, req.ID, actor)
	return nil
}

func (c *Coordinator) notifyPartnerCancelled(ctx context.Context, partnerRequestID, cancelledRequestID uuid.UUID, actor *models.User) {
	partnerReq, err := c.Store.GetRequest(ctx, partnerRequestID)
	if err != nil || partnerReq == nil {
		c.Logger.Warn("partner request lookup failed for cancellation notice", "request_id", partnerRequestID, "error", err)
		return
	}
	c.Notify.Send(partnerReq.OwnerID, hub.NewRideCancelled(
		models.MaskedView(*actor, cancelledRequestID),
		fmt.Sprintf("%s cancelled the shared ride.", actor.FullName),
	))
}

func (c *Coordinator) publish(ctx context.Context, eventType string, requestID uuid.UUID, u *models.User) {
	if c.Events == nil {
		return
	}
	evt := ingest.PoolEvent{Type: eventType, RequestID: requestID, UserID: u.ID, CollegeID: u.CollegeID}
	if err := c.Events.Publish(ctx, evt); err != nil {
		c.Logger.Warn("pool event publish failed", "type", eventType, "error", err)
	}
}
