package oracle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"googlemaps.github.io/maps"

	"github.com/dranzer-17/TripSync/internal/apperr"
	"github.com/dranzer-17/TripSync/internal/models"
	"github.com/dranzer-17/TripSync/internal/observability"
)

// GoogleOracle implements Oracle on top of the Google Distance Matrix
// API. Elements whose status is not OK map to nil distances. The
// injected HTTP client carries the timeout so a hung upstream can never
// stall a match search.
type GoogleOracle struct {
	client     *maps.Client
	httpClient *http.Client
}

func NewGoogleOracle(apiKey string, timeout time.Duration) (*GoogleOracle, error) {
	hc := &http.Client{Timeout: timeout}
	c, err := maps.NewClient(maps.WithAPIKey(apiKey), maps.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("creating maps client: %w", err)
	}
	return &GoogleOracle{client: c, httpClient: hc}, nil
}

func (g *GoogleOracle) DistanceMatrix(ctx context.Context, origin models.Coord, dests []models.Coord) ([]*float64, error) {
	if len(dests) == 0 {
		return nil, nil
	}

	destStrs := make([]string, len(dests))
	for i, d := range dests {
		destStrs[i] = fmtCoord(d)
	}

	resp, err := g.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      []string{fmtCoord(origin)},
		Destinations: destStrs,
		Mode:         maps.TravelModeDriving,
	})
	if err != nil {
		observability.OracleRequestsTotal.WithLabelValues("google", "error").Inc()
		return nil, apperr.Upstream("google distance matrix call failed", err)
	}
	if len(resp.Rows) == 0 {
		observability.OracleRequestsTotal.WithLabelValues("google", "error").Inc()
		return nil, apperr.New(apperr.KindUpstream, "google distance matrix: empty response")
	}

	out := make([]*float64, len(dests))
	for i, el := range resp.Rows[0].Elements {
		if i >= len(out) {
			break
		}
		if el.Status != "OK" {
			continue
		}
		m := float64(el.Distance.Meters)
		out[i] = &m
	}

	observability.OracleRequestsTotal.WithLabelValues("google", "ok").Inc()
	return out, nil
}
