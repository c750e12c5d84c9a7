package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dranzer-17/TripSync/internal/apperr"
	"github.com/dranzer-17/TripSync/internal/models"
	"github.com/dranzer-17/TripSync/internal/observability"
)

// OlaClient queries the Ola Maps distance matrix basic endpoint.
// Origins and destinations go on the query string as "lat,lng" pairs,
// destinations joined by "|"; the response carries a "distances" array
// aligned to the destinations with null for unroutable pairs.
type OlaClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewOlaClient(endpoint, apiKey string, timeout time.Duration) *OlaClient {
	return &OlaClient{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (o *OlaClient) DistanceMatrix(ctx context.Context, origin models.Coord, dests []models.Coord) ([]*float64, error) {
	if len(dests) == 0 {
		return nil, nil
	}

	parts := make([]string, len(dests))
	for i, d := range dests {
		parts[i] = fmtCoord(d)
	}
	q := url.Values{}
	q.Set("origins", fmtCoord(origin))
	q.Set("destinations", strings.Join(parts, "|"))
	q.Set("api_key", o.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := o.Client.Do(req)
	if err != nil {
		observability.OracleRequestsTotal.WithLabelValues("ola", "error").Inc()
		return nil, apperr.Upstream("ola distance matrix call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observability.OracleRequestsTotal.WithLabelValues("ola", "error").Inc()
		return nil, apperr.New(apperr.KindUpstream, fmt.Sprintf("ola distance matrix: status %d", resp.StatusCode))
	}

	var out struct {
		Distances []*float64 `json:"distances"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observability.OracleRequestsTotal.WithLabelValues("ola", "error").Inc()
		return nil, apperr.Upstream("decoding ola distance matrix response", err)
	}
	if len(out.Distances) != len(dests) {
		observability.OracleRequestsTotal.WithLabelValues("ola", "error").Inc()
		return nil, apperr.New(apperr.KindUpstream, fmt.Sprintf("ola distance matrix: got %d distances for %d destinations", len(out.Distances), len(dests)))
	}

	observability.OracleRequestsTotal.WithLabelValues("ola", "ok").Inc()
	return out.Distances, nil
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}
