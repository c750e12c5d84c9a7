package models

import (
	"time"

	"github.com/google/uuid"
)

// Coord is a WGS84 coordinate pair.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within WGS84 bounds.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// RequestStatus is the closed set of ride request states.
type RequestStatus string

const (
	RequestActive    RequestStatus = "active"
	RequestMatched   RequestStatus = "matched"
	RequestConnected RequestStatus = "connected"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestActive:    {RequestMatched, RequestConnected, RequestCancelled},
	RequestMatched:   {RequestConnected, RequestCancelled},
	RequestConnected: {RequestCompleted, RequestCancelled},
}

// CanTransition reports whether moving from s to next is a legal
// request state transition. Terminal states allow nothing.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	for _, t := range requestTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestCancelled
}

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestActive, RequestMatched, RequestConnected, RequestCompleted, RequestCancelled:
		return true
	}
	return false
}

// ConnectionStatus is the closed set of connection handshake states.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionApproved ConnectionStatus = "approved"
	ConnectionRejected ConnectionStatus = "rejected"
)

// CanTransition reports whether moving from s to next is legal. A
// pending connection may be resolved either way; an approved one may
// only be severed (marked rejected) by cascading cancellation.
func (s ConnectionStatus) CanTransition(next ConnectionStatus) bool {
	switch {
	case s == ConnectionPending && (next == ConnectionApproved || next == ConnectionRejected):
		return true
	case s == ConnectionApproved && next == ConnectionRejected:
		return true
	}
	return false
}

// Valid reports whether s is a known connection status.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionPending, ConnectionApproved, ConnectionRejected:
		return true
	}
	return false
}

// Request is a user's standing offer to share a ride between two
// coordinates. Creating a new request cancels the owner's prior active
// one, so each user holds at most one active request at a time.
type Request struct {
	ID        uuid.UUID     `json:"id"`
	OwnerID   uuid.UUID     `json:"owner_id"`
	Status    RequestStatus `json:"status"`
	Start     Coord         `json:"start"`
	Dest      Coord         `json:"dest"`
	DestLabel string        `json:"destination_name,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Connection is a bilateral handshake between two matched requests.
// Sender/receiver order encodes who initiated.
type Connection struct {
	ID                uuid.UUID        `json:"id"`
	SenderRequestID   uuid.UUID        `json:"sender_request_id"`
	ReceiverRequestID uuid.UUID        `json:"receiver_request_id"`
	Status            ConnectionStatus `json:"status"`
	CreatedAt         time.Time        `json:"created_at"`
	RespondedAt       *time.Time       `json:"responded_at,omitempty"`
}

// Involves reports whether requestID is on either side of the connection.
func (c *Connection) Involves(requestID uuid.UUID) bool {
	return c.SenderRequestID == requestID || c.ReceiverRequestID == requestID
}

// Other returns the request on the opposite side of requestID.
func (c *Connection) Other(requestID uuid.UUID) uuid.UUID {
	if c.SenderRequestID == requestID {
		return c.ReceiverRequestID
	}
	return c.SenderRequestID
}

// User is the authenticated identity supplied by the identity
// collaborator. Contact fields are only disclosed through FullView.
type User struct {
	ID              uuid.UUID `json:"id"`
	CollegeID       int64     `json:"college_id"`
	FullName        string    `json:"full_name"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone_number"`
	YearOfStudy     string    `json:"year_of_study"`
	Bio             string    `json:"bio"`
	ProfileImageURL string    `json:"profile_image_url"`
}

// MatchedUser is the wire view of a counterpart user attached to one of
// their requests. Contact fields are empty in the masked form and
// omitted from JSON.
type MatchedUser struct {
	ID              uuid.UUID `json:"id"`
	FullName        string    `json:"full_name"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
	RequestID       uuid.UUID `json:"request_id"`
	Phone           string    `json:"phone_number,omitempty"`
	Email           string    `json:"email,omitempty"`
	YearOfStudy     string    `json:"year_of_study,omitempty"`
	Bio             string    `json:"bio,omitempty"`
}

// MaskedView builds the pre-approval view of a user: public identity
// only, no contact fields.
func MaskedView(u User, requestID uuid.UUID) MatchedUser {
	return MatchedUser{
		ID:              u.ID,
		FullName:        u.FullName,
		ProfileImageURL: u.ProfileImageURL,
		RequestID:       requestID,
	}
}

// FullView builds the post-approval view including contact fields.
// This is the only constructor that discloses phone, email and bio.
func FullView(u User, requestID uuid.UUID) MatchedUser {
	m := MaskedView(u, requestID)
	m.Phone = u.Phone
	m.Email = u.Email
	m.YearOfStudy = u.YearOfStudy
	m.Bio = u.Bio
	return m
}

// ConnectionView is what get_active_connection returns: the caller's
// own side of the approved connection plus the partner in full.
type ConnectionView struct {
	ID            uuid.UUID        `json:"id"`
	Status        ConnectionStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UserRequestID uuid.UUID        `json:"user_request_id"`
	Partner       MatchedUser      `json:"partner"`
}

// Candidate couples an active request with its owner, as returned by
// the candidate query feeding the match engine.
type Candidate struct {
	Request Request
	Owner   User
}
