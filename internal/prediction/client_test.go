package prediction

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-analysis/internal/normalizer"
)

var testImage = &normalizer.NormalizedImage{
	Data:     []byte("\xff\xd8fake-jpeg"),
	MIMEType: "image/jpeg",
	Width:    10,
	Height:   10,
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/predict", 2*time.Second, zap.NewNop())
}

func TestPredictUploadsImageAndParsesResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile(FieldName)
		if err != nil {
			t.Errorf("missing %q part: %v", FieldName, err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != string(testImage.Data) {
			t.Errorf("unexpected upload bytes %q", data)
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("unexpected part content type %q", ct)
		}
		if header.Filename != "image.jpg" {
			t.Errorf("unexpected filename %q", header.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"predictions": {"dryness": 0.3, "acne": 0.5, "wrinkles": 0.05, "redness": 0.3},
			"recommendations": {
				"acne": [{"product_name": "Gel", "product_image": "https://img/gel.png"}],
				"dryness": [],
				"redness": [{"product_name": "Serum", "product_image": "https://img/serum.png", "product_url": "https://shop/serum"}]
			}
		}`)
	})

	result, err := client.Predict(context.Background(), testImage)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if got, want := names(result.Predictions), []string{"acne", "dryness", "redness"}; !equalNames(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
	if recs := result.Recommendations["redness"]; len(recs) != 1 || recs[0].ProductURL != "https://shop/serum" {
		t.Fatalf("unexpected redness recommendations: %+v", recs)
	}
	if recs, ok := result.Recommendations["dryness"]; !ok || len(recs) != 0 {
		t.Fatalf("expected empty dryness recommendations, got %+v (present=%t)", recs, ok)
	}
}

func TestPredictFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model crashed", http.StatusInternalServerError)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"predictions": {"acne": "high"}`)
			},
		},
		{
			name: "missing predictions",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"recommendations": {}}`)
			},
		},
		{
			name: "missing recommendations entry",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"predictions": {"acne": 0.9}, "recommendations": {}}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			result, err := client.Predict(context.Background(), testImage)
			if !errors.Is(err, ErrPredictionFailed) {
				t.Fatalf("expected ErrPredictionFailed, got %v", err)
			}
			if result != nil {
				t.Fatalf("expected nil result, got %+v", result)
			}
		})
	}
}

func TestPredictIgnoresRecommendationsForFilteredConditions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"predictions": {"acne": 0.9, "scars": 0.01}, "recommendations": {"acne": []}}`)
	})

	result, err := client.Predict(context.Background(), testImage)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.Predictions.Len() != 1 {
		t.Fatalf("expected a single condition, got %d", result.Predictions.Len())
	}
}

func TestPredictNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url+"/predict", time.Second, zap.NewNop())
	if _, err := client.Predict(context.Background(), testImage); !errors.Is(err, ErrPredictionFailed) {
		t.Fatalf("expected ErrPredictionFailed, got %v", err)
	}
}

func TestPredictRejectsMissingImage(t *testing.T) {
	client := NewClient("http://127.0.0.1:0/predict", time.Second, zap.NewNop())
	if _, err := client.Predict(context.Background(), nil); !errors.Is(err, ErrPredictionFailed) {
		t.Fatalf("expected ErrPredictionFailed, got %v", err)
	}
}
