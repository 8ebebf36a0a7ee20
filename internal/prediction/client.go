package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"

	"github.com/example/face-analysis/internal/logging"
	"github.com/example/face-analysis/internal/normalizer"
)

const (
	// FieldName is the multipart field carrying the image.
	FieldName = "image"

	maxResponseBytes = 4 << 20
)

// ErrPredictionFailed covers network failures, non-2xx answers and malformed bodies.
var ErrPredictionFailed = errors.New("prediction failed")

type response struct {
	Predictions     *orderedmap.OrderedMap[string, float64] `json:"predictions"`
	Recommendations map[string][]Recommendation            `json:"recommendations"`
}

// Client talks to the remote classification service.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient returns a client posting to endpoint. A zero timeout disables
// the client-side deadline.
func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("prediction_client"),
	}
}

// Predict uploads img once and returns the filtered, sorted result.
func (c *Client) Predict(ctx context.Context, img *normalizer.NormalizedImage) (*Result, error) {
	opLogger := logging.WithOperation(c.logger, "prediction.predict", "")
	if img == nil || len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: no image", ErrPredictionFailed)
	}

	body, contentType, err := encodeImage(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPredictionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPredictionFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		opLogger.Error("prediction request failed", zap.Error(err), zap.String("endpoint", c.endpoint))
		return nil, fmt.Errorf("%w: %v", ErrPredictionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		opLogger.Error("failed to read prediction response", zap.Error(err))
		return nil, fmt.Errorf("%w: read body: %v", ErrPredictionFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		opLogger.Error("prediction service returned an error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(raw, 256)),
		)
		return nil, fmt.Errorf("%w: status %d", ErrPredictionFailed, resp.StatusCode)
	}

	result, err := decodeResponse(raw)
	if err != nil {
		opLogger.Error("malformed prediction response", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPredictionFailed, err)
	}

	opLogger.Info("prediction received",
		zap.Int("conditions", result.Predictions.Len()),
		zap.Duration("latency", time.Since(start)),
	)
	return result, nil
}

func decodeResponse(raw []byte) (*Result, error) {
	var payload response
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if payload.Predictions == nil {
		return nil, errors.New("missing predictions")
	}

	filtered := FilterAndSort(payload.Predictions)
	if err := checkRecommendations(filtered, payload.Recommendations); err != nil {
		return nil, err
	}
	return &Result{
		Predictions:     filtered,
		Recommendations: payload.Recommendations,
	}, nil
}

func encodeImage(img *normalizer.NormalizedImage) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldName, "image"+extension(img.MIMEType)))
	contentType := img.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ""
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
