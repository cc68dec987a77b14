package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VelocityWindow is a fixed time span over which per-account activity
// counters are tracked.
type VelocityWindow struct {
	Name     string
	Duration time.Duration
}

// The three tracked windows.
var (
	WindowFiveMinutes = VelocityWindow{Name: "5m", Duration: 5 * time.Minute}
	WindowOneHour     = VelocityWindow{Name: "1h", Duration: time.Hour}
	WindowOneDay      = VelocityWindow{Name: "24h", Duration: 24 * time.Hour}
)

// VelocityWindows lists all tracked windows in ascending duration order.
func VelocityWindows() []VelocityWindow {
	return []VelocityWindow{WindowFiveMinutes, WindowOneHour, WindowOneDay}
}

// WindowMetrics holds one window's activity counters for an account.
// Counts and totals are exact; distinct counts come from probabilistic
// cardinality sketches and are approximate.
type WindowMetrics struct {
	Count             int64           `json:"count"`
	Total             decimal.Decimal `json:"total"`
	DistinctMerchants int64           `json:"distinctMerchants"`
	DistinctLocations int64           `json:"distinctLocations"`
}

// VelocityMetrics is a point-in-time snapshot of an account's activity
// across all tracked windows. Produced fresh per scoring call.
type VelocityMetrics struct {
	AccountID  string                   `json:"accountId"`
	Windows    map[string]WindowMetrics `json:"windows"`
	ObservedAt time.Time                `json:"observedAt"`
}

// Window returns the metrics for a named window, zero-valued if absent.
func (m *VelocityMetrics) Window(name string) WindowMetrics {
	if m == nil || m.Windows == nil {
		return WindowMetrics{Total: decimal.Zero}
	}
	if w, ok := m.Windows[name]; ok {
		return w
	}
	return WindowMetrics{Total: decimal.Zero}
}
