package connect

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dranzer-17/TripSync/internal/hub"
	"github.com/dranzer-17/TripSync/internal/match"
	"github.com/dranzer-17/TripSync/internal/models"
	"github.com/dranzer-17/TripSync/internal/storage"
)

type nearbyOracle struct{}

func (nearbyOracle) DistanceMatrix(ctx context.Context, origin models.Coord, dests []models.Coord) ([]*float64, error) {
	out := make([]*float64, len(dests))
	for i := range dests {
		d := 1200.0
		out[i] = &d
	}
	return out, nil
}

// Full pool walkthrough: two students at the same college post
// overlapping rides, get matched, shake hands and only then see each
// other's contact details.
func TestMatchThenConnectFlow(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	notify := &fakeNotifier{}

	engine := &match.Engine{
		Store:        store,
		Oracle:       nearbyOracle{},
		Notify:       notify,
		Logger:       testLogger(),
		StartRadiusM: 5000,
		DestRadiusM:  5000,
		Freshness:    15 * time.Minute,
	}
	coord := &Coordinator{Store: store, Notify: notify, Logger: testLogger(), MaxPending: 5}

	asha := models.User{
		ID: uuid.New(), CollegeID: 7, FullName: "Asha Verma",
		Email: "asha@college.edu", Phone: "+91-9000000001", YearOfStudy: "3rd", Bio: "CS",
	}
	rohan := models.User{
		ID: uuid.New(), CollegeID: 7, FullName: "Rohan Iyer",
		Email: "rohan@college.edu", Phone: "+91-9000000002", YearOfStudy: "2nd", Bio: "EE",
	}
	store.PutUser(asha)
	store.PutUser(rohan)

	start := models.Coord{Lat: 19.07, Lng: 72.87}
	dest := models.Coord{Lat: 19.12, Lng: 72.91}

	// Asha posts first; the pool is empty
	ashaReq, matches, err := engine.CreateRequestAndMatch(ctx, &asha, start, dest, "Airport")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 || ashaReq.Status != models.RequestActive {
		t.Fatalf("first request should wait unmatched, got %d matches, status %s", len(matches), ashaReq.Status)
	}

	// Rohan posts an overlapping ride and matches Asha
	rohanReq, matches, err := engine.CreateRequestAndMatch(ctx, &rohan, start, dest, "Airport")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID != asha.ID {
		t.Fatalf("expected Asha as the match, got %+v", matches)
	}
	if matches[0].Phone != "" {
		t.Fatal("matching must not disclose contacts")
	}

	// Asha's live channel saw the match
	ashaEvents := notify.eventsFor(asha.ID)
	if len(ashaEvents) != 1 {
		t.Fatalf("Asha should get a match event, got %d", len(ashaEvents))
	}
	mf := ashaEvents[0].(hub.MatchFound)
	if mf.Match.ID != rohan.ID || mf.Match.Phone != "" {
		t.Fatalf("match event should carry masked Rohan, got %+v", mf.Match)
	}

	// Asha reaches out
	conn, err := coord.Send(ctx, ashaReq.ID, rohanReq.ID, &asha)
	if err != nil {
		t.Fatal(err)
	}

	// Rohan approves; both sides connect and see each other in full
	if _, err := coord.Respond(ctx, conn.ID, ActionApprove, &rohan); err != nil {
		t.Fatal(err)
	}

	ashaView, err := coord.ActiveConnection(ctx, &asha)
	if err != nil || ashaView == nil {
		t.Fatalf("Asha should have an active connection: %v, %v", ashaView, err)
	}
	if ashaView.Partner.Phone != rohan.Phone || ashaView.Partner.Email != rohan.Email {
		t.Fatalf("post-approval view should disclose Rohan, got %+v", ashaView.Partner)
	}
	if ashaView.UserRequestID != ashaReq.ID {
		t.Fatalf("view anchors on Asha's request, got %s", ashaView.UserRequestID)
	}

	rohanView, err := coord.ActiveConnection(ctx, &rohan)
	if err != nil || rohanView == nil {
		t.Fatalf("Rohan should have an active connection: %v, %v", rohanView, err)
	}
	if rohanView.Partner.Phone != asha.Phone || rohanView.Partner.YearOfStudy != asha.YearOfStudy {
		t.Fatalf("post-approval view should disclose Asha, got %+v", rohanView.Partner)
	}

	// Rohan bails; Asha is told and both requests close
	notify.sent = nil
	if err := coord.CancelRequest(ctx, rohanReq.ID, &rohan); err != nil {
		t.Fatal(err)
	}
	if view, _ := coord.ActiveConnection(ctx, &asha); view != nil {
		t.Fatal("Asha's connection should be gone after the cancellation")
	}
	cancelEvents := notify.eventsFor(asha.ID)
	if len(cancelEvents) != 1 {
		t.Fatalf("Asha should hear about the cancellation, got %d", len(cancelEvents))
	}
	if _, ok := cancelEvents[0].(hub.RideCancelled); !ok {
		t.Fatalf("expected RideCancelled, got %T", cancelEvents[0])
	}
}
