// Package ml provides the client for the external fraud-probability model.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Client implements domain.MLPredictionPort over HTTP with a request
// timeout and circuit breaker. A slow or down prediction service must not
// stall the scoring path; callers substitute the unavailable sentinel on
// any error from Predict.
type Client struct {
	endpoint   string
	modelID    string
	httpClient *http.Client
	breaker    *Breaker
}

// NewClient creates a prediction client.
func NewClient(cfg domain.MLConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		modelID:    cfg.ModelID,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    NewBreaker("ml-prediction", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout),
	}
}

// predictRequest is the feature payload posted to the model endpoint.
type predictRequest struct {
	TransactionID    string  `json:"transactionId"`
	AccountID        string  `json:"accountId"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	Type             string  `json:"type"`
	Channel          string  `json:"channel"`
	MerchantCategory string  `json:"merchantCategory,omitempty"`
	DeviceID         string  `json:"deviceId,omitempty"`
	HourOfDay        int     `json:"hourOfDay"`
}

// predictResponse is the model endpoint's reply.
type predictResponse struct {
	ModelID           string             `json:"modelId"`
	ModelVersion      string             `json:"modelVersion"`
	FraudProbability  float64            `json:"fraudProbability"`
	Confidence        float64            `json:"confidence"`
	FeatureImportance map[string]float64 `json:"featureImportance,omitempty"`
}

// Predict returns the model's fraud probability for a transaction.
func (c *Client) Predict(ctx context.Context, tx *domain.Transaction) (domain.MLPrediction, error) {
	if c.endpoint == "" {
		return domain.MLPrediction{}, fmt.Errorf("prediction endpoint not configured")
	}

	var prediction domain.MLPrediction

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		p, err := c.predict(ctx, tx)
		if err != nil {
			return err
		}
		prediction = p
		return nil
	})
	if err != nil {
		return domain.MLPrediction{}, err
	}

	return prediction, nil
}

func (c *Client) predict(ctx context.Context, tx *domain.Transaction) (domain.MLPrediction, error) {
	amount, _ := tx.Amount.Value.Float64()

	reqBody := predictRequest{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Amount:        amount,
		Currency:      tx.Amount.Currency,
		Type:          tx.Type,
		Channel:       tx.Channel,
		DeviceID:      tx.DeviceID,
		HourOfDay:     tx.Timestamp.UTC().Hour(),
	}
	if tx.Merchant != nil {
		reqBody.MerchantCategory = tx.Merchant.Category
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return domain.MLPrediction{}, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return domain.MLPrediction{}, fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.MLPrediction{}, fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.MLPrediction{}, fmt.Errorf("prediction service returned %d", resp.StatusCode)
	}

	var body predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.MLPrediction{}, fmt.Errorf("failed to decode prediction response: %w", err)
	}

	modelID := body.ModelID
	if modelID == "" {
		modelID = c.modelID
	}

	return domain.MLPrediction{
		ModelID:           modelID,
		ModelVersion:      body.ModelVersion,
		FraudProbability:  clampUnit(body.FraudProbability),
		Confidence:        clampUnit(body.Confidence),
		FeatureImportance: body.FeatureImportance,
	}, nil
}

// clampUnit bounds a value to [0,1].
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
