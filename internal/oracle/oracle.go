// Package oracle provides road-distance lookups between one origin and
// many destinations. Results are positionally aligned to the input
// destinations; a nil element means that pair could not be routed and
// callers must treat it as "no match" rather than substitute a default.
package oracle

import (
	"context"

	"github.com/dranzer-17/TripSync/internal/models"
)

// Oracle is the batched distance-matrix interface used by the matcher.
type Oracle interface {
	// DistanceMatrix returns road distances in meters from origin to
	// each destination, aligned by index. Implementations carry a
	// bounded timeout and never retry.
	DistanceMatrix(ctx context.Context, origin models.Coord, dests []models.Coord) ([]*float64, error)
}
