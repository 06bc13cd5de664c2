package matcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// DefaultRadiusMeters is the dispatch search radius around the pickup.
const DefaultRadiusMeters = 5000.0

type Geo interface {
	QueryNearby(center models.Location, radiusMeters float64) []models.Candidate
}

type Dispatcher interface {
	RideOffer(r models.Ride, c models.Candidate)
	NoDriversFound(r models.Ride)
}

// Service offers a ride to every online driver in range and lets them
// race to accept. There is no ranking, retry or offer expiry.
type Service struct {
	Geo          Geo
	Offers       Dispatcher
	RadiusMeters float64
	Logger       *slog.Logger
}

// Dispatch returns the number of offers sent. Zero candidates tells the
// rider no driver was found; the ride stays requested.
func (s *Service) Dispatch(ctx context.Context, r models.Ride) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	radius := s.RadiusMeters
	if radius <= 0 {
		radius = DefaultRadiusMeters
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()
	defer func() { observability.DispatchLatency.Observe(time.Since(start).Seconds()) }()

	cands := s.Geo.QueryNearby(r.Pickup().Location(), radius)
	if len(cands) == 0 {
		observability.NoDrivers.Inc()
		s.Offers.NoDriversFound(r)
		logger.Info("no_drivers_found", "ride_id", r.ID, "rider_id", r.RiderID, "radius_m", radius)
		return 0, nil
	}
	for _, c := range cands {
		s.Offers.RideOffer(r, c)
	}
	observability.OffersSent.Add(float64(len(cands)))
	logger.Info("ride_dispatched", "ride_id", r.ID, "offers", len(cands), "nearest_m", cands[0].DistanceMeters)
	return len(cands), nil
}
