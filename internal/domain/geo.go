package domain

// GeographicContext is the outcome of comparing a transaction's location
// against the account's most recent prior located transaction.
type GeographicContext struct {
	ImpossibleTravel bool         `json:"impossibleTravel"`
	DistanceKm       float64      `json:"distanceKm"`
	RequiredSpeedKmh float64      `json:"requiredSpeedKmh"`
	Previous         *Geolocation `json:"previous,omitempty"`
	Current          *Geolocation `json:"current,omitempty"`
}

// NormalGeographicContext is the default when an account has no location
// history or the transaction carries no location.
func NormalGeographicContext() GeographicContext {
	return GeographicContext{}
}
