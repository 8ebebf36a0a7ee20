package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/face-analysis/internal/controller"
)

func newClassifier(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func writePNG(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	path := filepath.Join(t.TempDir(), "face.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FACE_CONFIG", "")
	t.Setenv("FACE_LOG_LEVEL", "error")

	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

const classifierBody = `{
	"predictions": {"redness": 0.08, "acne": 0.45, "dryness": 0.2},
	"recommendations": {"acne": [{"product_name": "Clarifying Gel", "product_image": "gel.png"}], "dryness": []}
}`

func TestAnalyzePrintsTable(t *testing.T) {
	classifier := newClassifier(t, http.StatusOK, classifierBody)
	t.Setenv("FACE_PREDICT_ENDPOINT", classifier.URL+"/predict")

	out, err := runCLI(t, "analyze", writePNG(t, 20, 20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"CONDITION", "acne", "45.00%", "Clarifying Gel", "dryness", "20.00%", "No recommendation"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "redness") {
		t.Fatalf("expected redness to be filtered:\n%s", out)
	}
	if strings.Index(out, "acne") > strings.Index(out, "dryness") {
		t.Fatalf("expected acne before dryness:\n%s", out)
	}
}

func TestAnalyzePrintsJSONWithTips(t *testing.T) {
	classifier := newClassifier(t, http.StatusOK, classifierBody)
	tipsDoc, err := os.ReadFile(filepath.Join("static", "aesthetic_recommendations.json"))
	if err != nil {
		t.Fatalf("failed to read tips document: %v", err)
	}
	tipsServer := newClassifier(t, http.StatusOK, string(tipsDoc))
	t.Setenv("FACE_PREDICT_ENDPOINT", classifier.URL+"/predict")
	t.Setenv("FACE_TIPS_URL", tipsServer.URL+"/aesthetic_recommendations.json")

	out, err := runCLI(t, "analyze", "--json", "--tips", "--camera", writePNG(t, 10, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var view controller.View
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("failed to decode output %q: %v", out, err)
	}
	if !view.HasPrediction || len(view.Predictions) != 2 {
		t.Fatalf("unexpected predictions: %+v", view.Predictions)
	}
	if view.Tips == nil || view.Tips.Cursor != 1 || len(view.Tips.Tips) != controller.MaxTipsShown {
		t.Fatalf("unexpected tips panel: %+v", view.Tips)
	}
}

func TestAnalyzeReportsPredictionFailure(t *testing.T) {
	classifier := newClassifier(t, http.StatusInternalServerError, `{"error":"boom"}`)
	t.Setenv("FACE_PREDICT_ENDPOINT", classifier.URL+"/predict")

	out, err := runCLI(t, "analyze", writePNG(t, 10, 10))
	if err == nil {
		t.Fatal("expected prediction error")
	}
	if !strings.Contains(out, "No prediction available.") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestAnalyzeRejectsNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := runCLI(t, "analyze", path); err == nil {
		t.Fatal("expected decode error")
	}
}
