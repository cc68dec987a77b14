package domain

// MLPrediction is the fraud-probability output of the external model.
type MLPrediction struct {
	ModelID           string             `json:"modelId"`
	ModelVersion      string             `json:"modelVersion"`
	FraudProbability  float64            `json:"fraudProbability"` // [0,1]
	Confidence        float64            `json:"confidence"`       // [0,1]
	FeatureImportance map[string]float64 `json:"featureImportance,omitempty"`
}

// UnavailablePrediction is the sentinel substituted when the prediction
// service fails, times out, or is skipped. Scoring degrades to rules only.
func UnavailablePrediction() MLPrediction {
	return MLPrediction{ModelID: "unavailable"}
}

// Unavailable reports whether this prediction is the fallback sentinel.
func (p MLPrediction) Unavailable() bool {
	return p.FraudProbability == 0 && p.Confidence == 0
}
