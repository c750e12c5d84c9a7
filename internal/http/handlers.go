// Package httpapi exposes the pooling engine over REST plus one
// websocket endpoint for live events. Error bodies follow the
// {"detail": ...} shape the mobile client already speaks.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dranzer-17/TripSync/internal/apperr"
	"github.com/dranzer-17/TripSync/internal/hub"
	"github.com/dranzer-17/TripSync/internal/models"
)

// Pooler creates ride requests and runs the match search.
type Pooler interface {
	CreateRequestAndMatch(ctx context.Context, requester *models.User, start, dest models.Coord, destLabel string) (*models.Request, []models.MatchedUser, error)
}

// Connector drives the connection handshake and cancellation.
type Connector interface {
	Send(ctx context.Context, senderRequestID, receiverRequestID uuid.UUID, sender *models.User) (*models.Connection, error)
	Respond(ctx context.Context, connectionID uuid.UUID, action string, responder *models.User) (*models.Connection, error)
	ActiveConnection(ctx context.Context, user *models.User) (*models.ConnectionView, error)
	CancelRequest(ctx context.Context, requestID uuid.UUID, actor *models.User) error
}

// UserDirectory resolves authenticated identities.
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type Server struct {
	Pool  Pooler
	Conns Connector
	Users UserDirectory
	Hub   *hub.Hub

	jwtSecret []byte
	logger    *slog.Logger
	mux       *mux.Router
}

func NewServer(pool Pooler, conns Connector, users UserDirectory, h *hub.Hub, jwtSecret string, logger *slog.Logger) *Server {
	s := &Server{
		Pool:      pool,
		Conns:     conns,
		Users:     users,
		Hub:       h,
		jwtSecret: []byte(jwtSecret),
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1/pool").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/requests", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/requests/{id}", s.handleCancelRequest).Methods("DELETE")
	api.HandleFunc("/connections/send", s.handleSendConnection).Methods("POST")
	api.HandleFunc("/connections/{id}/respond", s.handleRespondConnection).Methods("POST")
	api.HandleFunc("/connections/active", s.handleActiveConnection).Methods("GET")

	s.mux.HandleFunc("/api/ws/pool", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRequestPayload struct {
	StartLatitude  float64 `json:"start_latitude"`
	StartLongitude float64 `json:"start_longitude"`
	DestLatitude   float64 `json:"destination_latitude"`
	DestLongitude  float64 `json:"destination_longitude"`
	DestName       string  `json:"destination_name"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var p createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}

	start := models.Coord{Lat: p.StartLatitude, Lng: p.StartLongitude}
	dest := models.Coord{Lat: p.DestLatitude, Lng: p.DestLongitude}
	req, matches, err := s.Pool.CreateRequestAndMatch(r.Context(), user, start, dest, p.DestName)
	if err != nil {
		s.logError(r, err)
		writeError(w, err)
		return
	}
	if matches == nil {
		matches = []models.MatchedUser{}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"request_id": req.ID,
		"status":     req.Status,
		"matches":    matches,
	})
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, apperr.Validation("invalid request id"))
		return
	}
	if err := s.Conns.CancelRequest(r.Context(), id, user); err != nil {
		s.logError(r, err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendConnectionPayload struct {
	SenderRequestID uuid.UUID `json:"sender_request_id"`
	TargetRequestID uuid.UUID `json:"target_request_id"`
}

func (s *Server) handleSendConnection(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var p sendConnectionPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}
	if p.SenderRequestID == uuid.Nil || p.TargetRequestID == uuid.Nil {
		writeError(w, apperr.Validation("sender_request_id and target_request_id are required"))
		return
	}
	conn, err := s.Conns.Send(r.Context(), p.SenderRequestID, p.TargetRequestID, user)
	if err != nil {
		s.logError(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

type respondPayload struct {
	Action string `json:"action"`
}

func (s *Server) handleRespondConnection(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, apperr.Validation("invalid connection id"))
		return
	}
	var p respondPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}
	conn, err := s.Conns.Respond(r.Context(), id, p.Action, user)
	if err != nil {
		s.logError(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleActiveConnection(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	view, err := s.Conns.ActiveConnection(r.Context(), user)
	if err != nil {
		s.logError(r, err)
		writeError(w, err)
		return
	}
	// view is nil when the caller has no approved connection; the client
	// expects an explicit null rather than a 404
	writeJSON(w, http.StatusOK, map[string]any{"connection": view})
}

var upgrader = websocket.Upgrader{
	Subprotocols: []string{"token"},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// handleWS authenticates before upgrading, then parks in a read loop
// until the peer goes away. All traffic is server to client; inbound
// frames are drained and ignored.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticateWS(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ch := hub.NewWSChannel(conn)
	s.Hub.Connect(user.ID, ch)
	defer func() {
		s.Hub.Disconnect(user.ID, ch)
		_ = ch.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) logError(r *http.Request, err error) {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return
	}
	s.logger.Error("handler failed", "method", r.Method, "path", r.URL.Path, "error", err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := "internal error"

	var e *apperr.Error
	if errors.As(err, &e) {
		detail = e.Msg
		switch e.Kind {
		case apperr.KindValidation:
			status = http.StatusBadRequest
		case apperr.KindNotFound:
			status = http.StatusNotFound
		case apperr.KindForbidden:
			status = http.StatusForbidden
		case apperr.KindConflict:
			status = http.StatusConflict
		default:
			status = http.StatusInternalServerError
			detail = "internal error"
		}
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
