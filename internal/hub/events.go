package hub

import (
	"github.com/google/uuid"

	"github.com/dranzer-17/TripSync/internal/models"
)

// Live-channel event types. Field names are part of the client
// contract and must stay stable.
const (
	EventMatchFound                = "match_found"
	EventConnectionRequestReceived = "connection_request_received"
	EventConnectionRequestSent     = "connection_request_sent"
	EventConnectionApproved        = "connection_approved"
	EventConnectionRejected        = "connection_rejected"
	EventRideCancelled             = "ride_cancelled"
)

type MatchFound struct {
	Type  string             `json:"type"`
	Match models.MatchedUser `json:"match"`
}

func NewMatchFound(match models.MatchedUser) MatchFound {
	return MatchFound{Type: EventMatchFound, Match: match}
}

type ConnectionRequestReceived struct {
	Type         string             `json:"type"`
	ConnectionID uuid.UUID          `json:"connection_id"`
	FromUser     models.MatchedUser `json:"from_user"`
}

func NewConnectionRequestReceived(connectionID uuid.UUID, from models.MatchedUser) ConnectionRequestReceived {
	return ConnectionRequestReceived{Type: EventConnectionRequestReceived, ConnectionID: connectionID, FromUser: from}
}

type ConnectionRequestSent struct {
	Type         string             `json:"type"`
	ConnectionID uuid.UUID          `json:"connection_id"`
	ToUser       models.MatchedUser `json:"to_user"`
}

func NewConnectionRequestSent(connectionID uuid.UUID, to models.MatchedUser) ConnectionRequestSent {
	return ConnectionRequestSent{Type: EventConnectionRequestSent, ConnectionID: connectionID, ToUser: to}
}

type ConnectionApproved struct {
	Type          string             `json:"type"`
	ConnectionID  uuid.UUID          `json:"connection_id"`
	UserRequestID uuid.UUID          `json:"user_request_id"`
	Partner       models.MatchedUser `json:"partner"`
}

func NewConnectionApproved(connectionID, userRequestID uuid.UUID, partner models.MatchedUser) ConnectionApproved {
	return ConnectionApproved{Type: EventConnectionApproved, ConnectionID: connectionID, UserRequestID: userRequestID, Partner: partner}
}

type ConnectionRejected struct {
	Type         string             `json:"type"`
	ConnectionID uuid.UUID          `json:"connection_id"`
	ByUser       models.MatchedUser `json:"by_user"`
}

func NewConnectionRejected(connectionID uuid.UUID, by models.MatchedUser) ConnectionRejected {
	return ConnectionRejected{Type: EventConnectionRejected, ConnectionID: connectionID, ByUser: by}
}

type RideCancelled struct {
	Type    string             `json:"type"`
	ByUser  models.MatchedUser `json:"by_user"`
	Message string             `json:"message"`
}

func NewRideCancelled(by models.MatchedUser, message string) RideCancelled {
	return RideCancelled{Type: EventRideCancelled, ByUser: by, Message: message}
}
