package connect

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dranzer-17/TripSync/internal/apperr"
	"github.com/dranzer-17/TripSync/internal/hub"
	"github.com/dranzer-17/TripSync/internal/models"
	"github.com/dranzer-17/TripSync/internal/storage"
)

type sentEvent struct {
	userID uuid.UUID
	event  any
}

type fakeNotifier struct {
	sent []sentEvent
}

func (f *fakeNotifier) Send(userID uuid.UUID, event any) {
	f.sent = append(f.sent, sentEvent{userID: userID, event: event})
}

func (f *fakeNotifier) eventsFor(userID uuid.UUID) []any {
	var out []any
	for _, s := range f.sent {
		if s.userID == userID {
			out = append(out, s.event)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store  *storage.MemoryStore
	notify *fakeNotifier
	coord  *Coordinator
}

func newFixture() *fixture {
	store := storage.NewMemoryStore()
	notify := &fakeNotifier{}
	return &fixture{
		store:  store,
		notify: notify,
		coord: &Coordinator{
			Store:      store,
			Notify:     notify,
			Logger:     testLogger(),
			MaxPending: 5,
		},
	}
}

func (f *fixture) user(t *testing.T, name string) models.User {
	t.Helper()
	u := models.User{
		ID: uuid.New(), CollegeID: 1, FullName: name,
		Email: name + "@example.edu", Phone: "+91-900",
		YearOfStudy: "2nd", Bio: "bio of " + name,
	}
	f.store.PutUser(u)
	return u
}

func (f *fixture) request(t *testing.T, owner models.User, status models.RequestStatus) *models.Request {
	t.Helper()
	r := &models.Request{
		ID: uuid.New(), OwnerID: owner.ID, Status: models.RequestActive,
		Start: models.Coord{Lat: 19.07, Lng: 72.87}, Dest: models.Coord{Lat: 19.12, Lng: 72.91},
		CreatedAt: time.Now().UTC(),
	}
	if err := f.store.CreateRequest(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if status != models.RequestActive {
		if _, err := f.store.UpdateRequestStatus(context.Background(), r.ID, []models.RequestStatus{models.RequestActive}, status); err != nil {
			t.Fatal(err)
		}
		r.Status = status
	}
	return r
}

func TestSendNotifiesBothSidesMasked(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.user(t, "Alice")
	bob := f.user(t, "Bob")
	ra := f.request(t, alice, models.RequestMatched)
	rb := f.request(t, bob, models.RequestMatched)

	conn, err := f.coord.Send(ctx, ra.ID, rb.ID, &alice)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if conn.Status != models.ConnectionPending {
		t.Fatalf("new connection should be pending, got %s", conn.Status)
	}

	bobEvents := f.notify.eventsFor(bob.ID)
	if len(bobEvents) != 1 {
		t.Fatalf("receiver should get one event, got %d", len(bobEvents))
	}
	recv, ok := bobEvents[0].(hub.ConnectionRequestReceived)
	if !ok {
		t.Fatalf("expected ConnectionRequestReceived, got %T", bobEvents[0])
	}
	if recv.FromUser.Phone != "" || recv.FromUser.Email != "" {
		t.Fatalf("pre-approval event leaked contact fields: %+v", recv.FromUser)
	}
	if recv.FromUser.ID != alice.ID || recv.FromUser.RequestID != ra.ID {
		t.Fatalf("event should carry the sender, got %+v", recv.FromUser)
	}

	aliceEvents := f.notify.eventsFor(alice.ID)
	if len(aliceEvents) != 1 {
		t.Fatalf("sender should get an ack event, got %d", len(aliceEvents))
	}
	if _, ok := aliceEvents[0].(hub.ConnectionRequestSent); !ok {
		t.Fatalf("expected ConnectionRequestSent, got %T", aliceEvents[0])
	}
}

// lookupFailingStore drops GetUser to exercise degraded notification
// paths.
type lookupFailingStore struct {
	*storage.MemoryStore
	fail bool
}

func (s *lookupFailingStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if s.fail {
		return nil, context.DeadlineExceeded
	}
	return s.MemoryStore.GetUser(ctx, id)
}

func TestSendNotifiesDespiteReceiverLookupFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.user(t, "Alice")
	bob := f.user(t, "Bob")
	ra := f.request(t, alice, models.RequestMatched)
	rb := f.request(t, bob, models.RequestMatched)

	failing := &lookupFailingStore{MemoryStore: f.store, fail: true}
	f.coord.Store = failing

	conn, err := f.coord.Send(ctx, ra.ID, rb.ID, &alice)
	if err != nil {
		t.Fatalf("a notification lookup failure must not fail the send: %v", err)
	}

	bobEvents := f.notify.eventsFor(bob.ID)
	if len(bobEvents) != 1 {
		t.Fatalf("receiver event does not need the lookup, got %d", len(bobEvents))
	}
	recv := bobEvents[0].(hub.ConnectionRequestReceived)
	if recv.ConnectionID != conn.ID || recv.FromUser.ID != alice.ID {
		t.Fatalf("unexpected receiver event: %+v", recv)
	}

	aliceEvents := f.notify.eventsFor(alice.ID)
	if len(aliceEvents) != 1 {
		t.Fatalf("sender ack should still go out, got %d", len(aliceEvents))
	}
	ack := aliceEvents[0].(hub.ConnectionRequestSent)
	if ack.ConnectionID != conn.ID || ack.ToUser.RequestID != rb.ID {
		t.Fatalf("degraded ack should still carry the target request, got %+v", ack)
	}
}

func TestSendDuplicatePairConflictsUntilRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.user(t, "Alice")
	bob := f.user(t, "Bob")
	ra := f.request(t, alice, models.RequestMatched)
	rb := f.request(t, bob, models.RequestMatched)

	conn, err := f.coord.Send(ctx, ra.ID, rb.ID, &alice)
	if err != nil {
		t.Fatal(err)
	}

	// same pair, either direction
	if _, err := f.coord.Send(ctx, ra.ID, rb.ID, &alice); !apperr.IsConflict(err) {
		t.Fatalf("duplicate send should conflict, got %v", err)
	}
	if _, err := f.coord.Send(ctx, rb.ID, ra.ID, &bob); !apperr.IsConflict(err) {
		t.Fatalf("reverse duplicate should conflict, got %v", err)
	}

	if _, err := f.coord.Respond(ctx, conn.ID, ActionReject, &bob); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.coord.Send(ctx, rb.ID, ra.ID, &bob); err != nil {
		t.Fatalf("pair should reopen after rejection: %v", err)
	}
}

func TestSendPendingCap(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.user(t, "Alice")
	ra := f.request(t, alice, models.RequestMatched)

	for i := 0; i < 5; i++ {
		peer := f.user(t, "Peer")
		rp := f.request(t, peer, models.RequestMatched)
		if _, err := f.coord.Send(ctx, ra.ID, rp.ID, &alice); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	extra := f.user(t, "Extra")
	re := f.request(t, extra, models.RequestMatched)
	if _, err := f.coord.Send(ctx, ra.ID, re.ID, &alice); !apperr.IsConflict(err) {
		t.Fatalf("sixth pending send should conflict, got %v", err)
	}
}

func TestSendGuards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.user(t, "Alice")
	bob := f.user(t, "Bob")
	ra := f.request(t, alice, models.RequestMatched)
	rb := f.request(t, bob, models.RequestMatched)

	// not the owner of the sender request
	if _, err := f.coord.Send(ctx, ra.ID, rb.ID, &bob); !apperr.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// own request on both sides
	ra2 := f.request(t, alice, models.RequestActive) // supersedes nothing, ra is matched
	if _, err := f.coord.Send(ctx, ra2.ID, ra.ID, &alice); !apperr.IsValidation(err) {
		t.Fatalf("self-connect should be a validation error, got %v", err)
	}

	// cancelled sender request
	rc := f.request(t, f.user(t, "Cara"), models.RequestCancelled)
	cara, _ := f.store.GetUser(ctx, rc.OwnerID)
	if _, err := f.coord.Send(ctx, rc.ID, rb.ID, cara); !apperr.IsConflict(err) {
		t.Fatalf("cancelled request cannot connect, got %v", err)
	}

	// unknown target
	if _, err := f.coord.Send(ctx, ra.ID, uuid.New(), &alice); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApproveDisclosesContactsBothWays(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.user(t, "Alice")
	bob := f.user(t, "Bob")
	ra := f.request(t, alice, models.RequestMatched)
	rb := f.request(t, bob, models.RequestMatched)

	conn, err := f.coord.Send(ctx, ra.ID, rb.ID, &alice)
	if err != nil {
		t.Fatal(err)
	}
	f.notify.sent = nil

	got, err := f.coord.Respond(ctx, conn.ID, ActionApprove, &bob)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != models.ConnectionApproved {
		t.Fatalf("connection should be approved, got %s", got.Status)
	}

	for _, id := range []uuid.UUID{ra.ID, rb.ID} {
		r, _ := f.store.GetRequest(ctx, id)
		if r.Status != models.RequestConnected {
			t.Fatalf("request %s should be connected, got %s", id, r.Status)
		}
	}

	aliceEvents := f.notify.eventsFor(alice.ID)
	if len(aliceEvents) != 1 {
		t.Fatalf("sender should be notified of approval, got %d", len(aliceEvents))
	}
	approved := aliceEvents[0].(hub.ConnectionApproved)
	if approved.Partner.Phone != bob.Phone || approved.Partner.Email != bob.Email || approved.Partner.Bio != bob.Bio {
		t.Fatalf("approval must disclose the partner in full, got %+v", approved.Partner)
	}
	if approved.UserRequestID != ra.ID {
		t.Fatalf("sender's event should carry their own request id, got %s", approved.UserRequestID)
	}

	bobEvents := f.notify.eventsFor(bob.ID)
	if len(bobEvents) != 1 {
		t.Fatalf("responder should be notified too, got %d", len(bobEvents))
	}
	approved = bobEvents[0].(hub.ConnectionApproved)
	if approved.Partner.Phone != alice.Phone {
		t.Fatalf("responder should see the sender in full, got %+v", approved.Partner)
	}
	if approved.UserRequestID != rb.ID {
		t.Fatalf("responder's event should carry their own request id, got %s", approved.UserRequestID)
	}

	// active connection now resolvable from either side
	view, err := f.coord.ActiveConnection(ctx, &alice)
	if err != nil || view == nil {
		t.Fatalf("ActiveConnection: %v, %v", view, err)
	}
	if view.Partner.ID != bob.ID || view.Partner.Phone != bob.Phone {
		t.Fatalf("view should carry the partner in full, got %+v", view.Partner)
	}
	if view.UserRequestID != ra.ID {
		t.Fatalf("view should anchor on the caller's request, got %s", view.UserRequestID)
	}
}

func TestRespondGuards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.user(t, "Alice")
	bob := f.user(t, "Bob")
	ra := f.request(t, alice, models.RequestMatched)
	rb := f.request(t, bob, models.RequestMatched)

	conn, err := f.coord.Send(ctx, ra.ID, rb.ID, &alice)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.coord.Respond(ctx, conn.ID, "maybe", &bob); !apperr.IsValidation(err) {
		t.Fatalf("unknown action should be a validation error, got %v", err)
	}
	// only the receiver may respond; the sender cannot approve their own ask
	if _, err := f.coord.Respond(ctx, conn.ID, ActionApprove, &alice); !apperr.IsForbidden(err) {
		t.Fatalf("sender responding should be forbidden, got %v", err)
	}
	if _, err := f.coord.Respond(ctx, uuid.New(), ActionApprove, &bob); !apperr.IsNotFound(err) {
		t.Fatalf("missing connection should be not found, got %v", err)
	}

	if _, err := f.coord.Respond(ctx, conn.ID, ActionReject, &bob); err != nil {
		t.Fatal(err)
	}
	// second response of any kind conflicts
	if _, err := f.coord.Respond(ctx, conn.ID, ActionApprove, &bob); !apperr.IsConflict(err) {
		t.Fatalf("double response should conflict, got %v", err)
	}
}

func TestRejectLeavesRequestStatuses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.user(t, "Alice")
	bob := f.user(t, "Bob")
	ra := f.request(t, alice, models.RequestMatched)
	rb := f.request(t, bob, models.RequestMatched)

	conn, err := f.coord.Send(ctx, ra.ID, rb.ID, &alice)
	if err != nil {
		t.Fatal(err)
	}
	f.notify.sent = nil

	if _, err := f.coord.Respond(ctx, conn.ID, ActionReject, &bob); err != nil {
		t.Fatal(err)
	}

	for _, id := range []uuid.UUID{ra.ID, rb.ID} {
		r, _ := f.store.GetRequest(ctx, id)
		if r.Status != models.RequestMatched {
			t.Fatalf("rejection must not move request %s, got %s", id, r.Status)
		}
	}

	aliceEvents := f.notify.eventsFor(alice.ID)
	if len(aliceEvents) != 1 {
		t.Fatalf("sender should learn of the rejection, got %d", len(aliceEvents))
	}
	rej := aliceEvents[0].(hub.ConnectionRejected)
	if rej.ByUser.Phone != "" {
		t.Fatal("rejection event must stay masked")
	}
	if len(f.notify.eventsFor(bob.ID)) != 0 {
		t.Fatal("responder needs no event for their own action")
	}
}

func TestCancelConnectedCascades(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.user(t, "Alice")
	bob := f.user(t, "Bob")
	cara := f.user(t, "Cara")
	ra := f.request(t, alice, models.RequestMatched)
	rb := f.request(t, bob, models.RequestMatched)
	rc := f.request(t, cara, models.RequestMatched)

	conn, err := f.coord.Send(ctx, ra.ID, rb.ID, &alice)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.Respond(ctx, conn.ID, ActionApprove, &bob); err != nil {
		t.Fatal(err)
	}
	// a pending ask from cara against alice's request, caught in the cascade
	pending, err := f.coord.Send(ctx, rc.ID, ra.ID, &cara)
	if err != nil {
		t.Fatal(err)
	}
	f.notify.sent = nil

	if err := f.coord.CancelRequest(ctx, ra.ID, &alice); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	gotA, _ := f.store.GetRequest(ctx, ra.ID)
	if gotA.Status != models.RequestCancelled {
		t.Fatalf("cancelled request should be cancelled, got %s", gotA.Status)
	}
	gotB, _ := f.store.GetRequest(ctx, rb.ID)
	if gotB.Status != models.RequestCancelled {
		t.Fatalf("partner request should be force-cancelled, got %s", gotB.Status)
	}
	gotConn, _ := f.store.GetConnection(ctx, conn.ID)
	if gotConn.Status != models.ConnectionRejected {
		t.Fatalf("approved connection should be severed, got %s", gotConn.Status)
	}
	gotPending, _ := f.store.GetConnection(ctx, pending.ID)
	if gotPending.Status != models.ConnectionRejected {
		t.Fatalf("pending connection should be rejected, got %s", gotPending.Status)
	}
	// cara's own request is untouched
	gotC, _ := f.store.GetRequest(ctx, rc.ID)
	if gotC.Status != models.RequestMatched {
		t.Fatalf("outside request must keep its status, got %s", gotC.Status)
	}

	bobEvents := f.notify.eventsFor(bob.ID)
	if len(bobEvents) != 1 {
		t.Fatalf("partner should be told, got %d events", len(bobEvents))
	}
	rc2, ok := bobEvents[0].(hub.RideCancelled)
	if !ok {
		t.Fatalf("expected RideCancelled, got %T", bobEvents[0])
	}
	if rc2.ByUser.ID != alice.ID || rc2.ByUser.Phone != "" {
		t.Fatalf("cancellation notice should name the actor, masked: %+v", rc2.ByUser)
	}
	if len(f.notify.eventsFor(cara.ID)) != 0 {
		t.Fatal("cascaded pending rejections are not notified")
	}
}

func TestCancelGuardsAndIdempotence(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.user(t, "Alice")
	bob := f.user(t, "Bob")
	ra := f.request(t, alice, models.RequestActive)

	if err := f.coord.CancelRequest(ctx, ra.ID, &bob); !apperr.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := f.coord.CancelRequest(ctx, uuid.New(), &alice); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := f.coord.CancelRequest(ctx, ra.ID, &alice); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := f.coord.CancelRequest(ctx, ra.ID, &alice); err != nil {
		t.Fatalf("cancelling a cancelled request is a no-op, got %v", err)
	}

	done := f.request(t, alice, models.RequestCompleted)
	if err := f.coord.CancelRequest(ctx, done.ID, &alice); !apperr.IsConflict(err) {
		t.Fatalf("a completed ride cannot be cancelled, got %v", err)
	}
}
