// Package geo flags physically implausible travel between an account's
// consecutive transactions.
package geo

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// Detector evaluates a transaction's location against the account's most
// recent prior located transaction.
type Detector struct {
	history     domain.TransactionHistory
	maxSpeedKmh float64
}

// NewDetector creates a detector. maxSpeedKmh defaults to 965 km/h,
// approximating sustained commercial-flight speed.
func NewDetector(history domain.TransactionHistory, maxSpeedKmh float64) *Detector {
	if maxSpeedKmh <= 0 {
		maxSpeedKmh = 965
	}
	return &Detector{
		history:     history,
		maxSpeedKmh: maxSpeedKmh,
	}
}

// Evaluate computes the geographic context for a transaction. Accounts with
// no located history, and transactions without a location, yield the normal
// context.
func (d *Detector) Evaluate(ctx context.Context, tx *domain.Transaction) (domain.GeographicContext, error) {
	if tx.Location == nil {
		return domain.NormalGeographicContext(), nil
	}

	previous, err := d.history.MostRecentLocation(ctx, tx.TenantID, tx.AccountID, tx.Timestamp)
	if err != nil {
		return domain.GeographicContext{}, fmt.Errorf("%w: location history: %v", domain.ErrUnavailable, err)
	}
	if previous == nil {
		return domain.NormalGeographicContext(), nil
	}

	distance := HaversineKm(previous.Latitude, previous.Longitude, tx.Location.Latitude, tx.Location.Longitude)
	elapsed := tx.Timestamp.Sub(previous.ObservedAt).Hours()
	speed := requiredSpeed(distance, elapsed)

	return domain.GeographicContext{
		ImpossibleTravel: speed > d.maxSpeedKmh,
		DistanceKm:       distance,
		RequiredSpeedKmh: speed,
		Previous:         previous,
		Current:          tx.Location,
	}, nil
}

// requiredSpeed derives the average speed needed to cover the distance in
// the elapsed time. Zero or negative elapsed time with nonzero distance is
// effectively instantaneous travel, yielding an extreme speed.
func requiredSpeed(distanceKm, elapsedHours float64) float64 {
	if distanceKm == 0 {
		return 0
	}
	if elapsedHours <= 0 {
		return math.Inf(1)
	}
	return distanceKm / elapsedHours
}

// HaversineKm computes the great-circle distance between two coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
