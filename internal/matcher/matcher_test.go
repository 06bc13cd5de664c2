package matcher

import (
	"context"
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
)

type recDisp struct {
	offers   []models.Candidate
	noDriver int
}

func (r *recDisp) RideOffer(_ models.Ride, c models.Candidate) { r.offers = append(r.offers, c) }
func (r *recDisp) NoDriversFound(models.Ride)                  { r.noDriver++ }

type fixedGeo struct {
	cands  []models.Candidate
	radius float64
}

func (f *fixedGeo) QueryNearby(_ models.Location, radius float64) []models.Candidate {
	f.radius = radius
	return f.cands
}

var pickupRide = models.Ride{
	ID: "ride1", RiderID: "rider1",
	PickupLat: 19.0330, PickupLng: 73.0297,
	DropLat: 18.9894, DropLng: 73.1175,
	Fare: 150, DistanceKm: 5.5, Status: models.StatusRequested,
}

func TestOffersEveryCandidate(t *testing.T) {
	g := &fixedGeo{cands: []models.Candidate{{DriverID: "A", DistanceMeters: 100}, {DriverID: "B", DistanceMeters: 900}}}
	d := &recDisp{}
	s := &Service{Geo: g, Offers: d}

	n, err := s.Dispatch(context.Background(), pickupRide)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(d.offers) != 2 {
		t.Fatalf("expected 2 offers, got n=%d offers=%v", n, d.offers)
	}
	if d.offers[1].DistanceMeters != 900 {
		t.Fatalf("each offer keeps its own distance, got %v", d.offers[1].DistanceMeters)
	}
	if g.radius != DefaultRadiusMeters {
		t.Fatalf("expected default radius, got %v", g.radius)
	}
	if d.noDriver != 0 {
		t.Fatal("no_drivers_found must not fire when offers were sent")
	}
}

func TestNoCandidatesNotifiesRider(t *testing.T) {
	d := &recDisp{}
	s := &Service{Geo: &fixedGeo{}, Offers: d, RadiusMeters: 1000}
	n, err := s.Dispatch(context.Background(), pickupRide)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || d.noDriver != 1 {
		t.Fatalf("expected one no_drivers_found, got n=%d calls=%d", n, d.noDriver)
	}
}

func TestCancelledContextSendsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &recDisp{}
	s := &Service{Geo: &fixedGeo{cands: []models.Candidate{{DriverID: "A"}}}, Offers: d}
	if _, err := s.Dispatch(ctx, pickupRide); err == nil {
		t.Fatal("expected context error")
	}
	if len(d.offers) != 0 || d.noDriver != 0 {
		t.Fatal("nothing may be sent after cancellation")
	}
}

// One driver 2 km north of the pickup, one 8 km away and one offline:
// only the first is offered the ride.
func TestDispatchAgainstPresenceStore(t *testing.T) {
	ctx := context.Background()
	ps := presence.NewStore(5)
	deg := func(m float64) float64 { return m / 111195.0 }

	if _, err := ps.SetOnline(ctx, "near", models.Location{Lat: 19.0330 + deg(2000), Lng: 73.0297}); err != nil {
		t.Fatal(err)
	}
	if _, err := ps.SetOnline(ctx, "far", models.Location{Lat: 19.0330 + deg(8000), Lng: 73.0297}); err != nil {
		t.Fatal(err)
	}
	if _, err := ps.UpdateLocation(ctx, "asleep", models.Location{Lat: 19.0331, Lng: 73.0297}); err != nil {
		t.Fatal(err)
	}

	d := &recDisp{}
	s := &Service{Geo: ps, Offers: d, RadiusMeters: DefaultRadiusMeters}
	if _, err := s.Dispatch(ctx, pickupRide); err != nil {
		t.Fatal(err)
	}
	if len(d.offers) != 1 || d.offers[0].DriverID != "near" {
		t.Fatalf("expected only near driver, got %+v", d.offers)
	}
	if math.Abs(d.offers[0].DistanceMeters-2000) > 5 {
		t.Fatalf("expected distance near 2000m, got %v", d.offers[0].DistanceMeters)
	}
}
