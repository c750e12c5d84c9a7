package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dranzer-17/TripSync/internal/apperr"
	"github.com/dranzer-17/TripSync/internal/models"
)

// MemoryStore is an in-process Store used for local runs without a
// database and throughout the tests. It upholds the same conditional
// transition semantics as the Postgres implementation.
type MemoryStore struct {
	mu          sync.RWMutex
	requests    map[uuid.UUID]*models.Request
	connections map[uuid.UUID]*models.Connection
	users       map[uuid.UUID]*models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:    make(map[uuid.UUID]*models.Request),
		connections: make(map[uuid.UUID]*models.Connection),
		users:       make(map[uuid.UUID]*models.User),
	}
}

// PutUser seeds the directory. Identity issuance lives elsewhere; this
// exists for tests and database-less local runs.
func (m *MemoryStore) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r *models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.OwnerID == r.OwnerID && existing.Status == models.RequestActive {
			existing.Status = models.RequestCancelled
		}
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ActiveCandidates(ctx context.Context, collegeID int64, excludeOwner uuid.UUID, since time.Time) ([]models.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Candidate
	for _, r := range m.requests {
		if r.Status != models.RequestActive || r.OwnerID == excludeOwner {
			continue
		}
		if r.CreatedAt.Before(since) {
			continue
		}
		owner, ok := m.users[r.OwnerID]
		if !ok || owner.CollegeID != collegeID {
			continue
		}
		out = append(out, models.Candidate{Request: *r, Owner: *owner})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Request.CreatedAt.Before(out[j].Request.CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) ClaimMatch(ctx context.Context, requesterRequestID, candidateRequestID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cand, ok := m.requests[candidateRequestID]
	if !ok || cand.Status != models.RequestActive {
		return false, nil
	}
	req, ok := m.requests[requesterRequestID]
	if !ok || (req.Status != models.RequestActive && req.Status != models.RequestMatched) {
		return false, nil
	}
	cand.Status = models.RequestMatched
	req.Status = models.RequestMatched
	return true, nil
}

func (m *MemoryStore) UpdateRequestStatus(ctx context.Context, id uuid.UUID, from []models.RequestStatus, to models.RequestStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if r.Status == f {
			r.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ConnectedRequestByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.Request
	for _, r := range m.requests {
		if r.OwnerID != ownerID || r.Status != models.RequestConnected {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) CreateConnection(ctx context.Context, c *models.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openForPairLocked(c.SenderRequestID, c.ReceiverRequestID) != nil {
		return apperr.Conflict("a connection for this request pair is already open")
	}
	cp := *c
	m.connections[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) OpenConnectionForPair(ctx context.Context, a, b uuid.UUID) (*models.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.openForPairLocked(a, b); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) openForPairLocked(a, b uuid.UUID) *models.Connection {
	for _, c := range m.connections {
		if c.Status == models.ConnectionRejected {
			continue
		}
		if (c.SenderRequestID == a && c.ReceiverRequestID == b) ||
			(c.SenderRequestID == b && c.ReceiverRequestID == a) {
			return c
		}
	}
	return nil
}

func (m *MemoryStore) CountPendingFromSender(ctx context.Context, senderRequestID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.connections {
		if c.SenderRequestID == senderRequestID && c.Status == models.ConnectionPending {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpdateConnectionStatus(ctx context.Context, id uuid.UUID, from, to models.ConnectionStatus, respondedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok || c.Status != from || !from.CanTransition(to) {
		return false, nil
	}
	c.Status = to
	c.RespondedAt = &respondedAt
	return true, nil
}

func (m *MemoryStore) ApproveConnection(ctx context.Context, connectionID, senderRequestID, receiverRequestID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[connectionID]
	if !ok || c.Status != models.ConnectionPending {
		return false, nil
	}
	sr, ok := m.requests[senderRequestID]
	if !ok || !connectable(sr.Status) {
		return false, nil
	}
	rr, ok := m.requests[receiverRequestID]
	if !ok || !connectable(rr.Status) {
		return false, nil
	}
	now := time.Now().UTC()
	c.Status = models.ConnectionApproved
	c.RespondedAt = &now
	sr.Status = models.RequestConnected
	rr.Status = models.RequestConnected
	return true, nil
}

func connectable(s models.RequestStatus) bool {
	return s.CanTransition(models.RequestConnected)
}

func (m *MemoryStore) SeverConnection(ctx context.Context, connectionID, partnerRequestID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[connectionID]
	if !ok || c.Status != models.ConnectionApproved {
		return false, nil
	}
	now := time.Now().UTC()
	c.Status = models.ConnectionRejected
	c.RespondedAt = &now
	if pr, ok := m.requests[partnerRequestID]; ok && pr.Status == models.RequestConnected {
		pr.Status = models.RequestCancelled
	}
	return true, nil
}

func (m *MemoryStore) RejectPendingForRequest(ctx context.Context, requestID uuid.UUID) ([]models.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var out []models.Connection
	for _, c := range m.connections {
		if c.Status != models.ConnectionPending || !c.Involves(requestID) {
			continue
		}
		c.Status = models.ConnectionRejected
		c.RespondedAt = &now
		out = append(out, *c)
	}
	return out, nil
}

func (m *MemoryStore) ApprovedConnectionForRequest(ctx context.Context, requestID uuid.UUID) (*models.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.connections {
		if c.Status == models.ConnectionApproved && c.Involves(requestID) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}
