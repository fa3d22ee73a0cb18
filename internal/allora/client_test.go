package allora

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "TradeFleet-Chain/internal/errors"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestPredictPriceSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Path          string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		captured.Path = r.URL.Path
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"prediction": 42.5,
			"confidence": 0.83,
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	history := []Candle{{Timestamp: 1700000000, Close: 41.9}}
	pred, err := client.PredictPrice(context.Background(), "model-7", history, MarketConditions{MidPrice: 42.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pred.Price != 42.5 || pred.Confidence != 0.83 {
		t.Fatalf("unexpected prediction: %+v", pred)
	}
	if pred.ModelID != "model-7" {
		t.Fatalf("model id not backfilled: %q", pred.ModelID)
	}

	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	if !strings.HasSuffix(captured.Path, "/predict/model-7") {
		t.Fatalf("unexpected request path: %q", captured.Path)
	}
	if captured.Body["historical_data"] == nil {
		t.Fatalf("historical_data missing in request")
	}
}

func TestPredictPriceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	_, err = client.PredictPrice(context.Background(), "model-7", nil, MarketConditions{})
	if err == nil {
		t.Fatalf("expected error when http status is not success")
	}
	if apperrors.CodeOf(err) != apperrors.CodePredictionFailure {
		t.Fatalf("unexpected error code: %v", apperrors.CodeOf(err))
	}
}

func TestConfidenceInterval(t *testing.T) {
	pred := &Prediction{Price: 100, Confidence: 0.9}
	low, high := pred.ConfidenceInterval()
	if low != 90 || high != 110 {
		t.Fatalf("unexpected interval: [%v, %v]", low, high)
	}

	pred = &Prediction{Price: 100, Confidence: 1}
	if low, high := pred.ConfidenceInterval(); low != 100 || high != 100 {
		t.Fatalf("full confidence should collapse to the point estimate: [%v, %v]", low, high)
	}

	pred = &Prediction{Price: 100, Confidence: -0.5}
	if low, high := pred.ConfidenceInterval(); low != 0 || high != 200 {
		t.Fatalf("invalid confidence should use the widest interval: [%v, %v]", low, high)
	}
}

func TestPredictPriceRequiresModelID(t *testing.T) {
	client, err := NewClient(Config{APIKey: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.PredictPrice(context.Background(), "  ", nil, MarketConditions{}); err == nil {
		t.Fatalf("expected error when model id is empty")
	}
}
