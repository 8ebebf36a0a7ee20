package tips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/face-analysis/internal/logging"
)

const maxDocumentBytes = 1 << 20

// ErrTipsLoadFailed reports a tips document that could not be fetched or parsed.
var ErrTipsLoadFailed = errors.New("tips load failed")

// ProductSuggestion is a product attached to a tip.
type ProductSuggestion struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Tip is one aesthetic recommendation from the static document.
type Tip struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Products    []ProductSuggestion `json:"products"`
}

// HTTPSource fetches the tips document with a GET request.
type HTTPSource struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
	group      singleflight.Group
}

// NewHTTPSource returns a source reading the document at url.
func NewHTTPSource(url string, timeout time.Duration, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("tips_source"),
	}
}

// Load fetches and parses the document. Concurrent callers share one
// request, which runs detached from any single caller's cancellation and is
// bounded by the client timeout; a cancelled caller stops waiting alone.
func (s *HTTPSource) Load(ctx context.Context) ([]Tip, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(s.url, func() (interface{}, error) {
		return s.fetch(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("tips load shared with a concurrent caller")
		}
		return res.Val.([]Tip), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrTipsLoadFailed, ctx.Err())
	}
}

func (s *HTTPSource) fetch(ctx context.Context) ([]Tip, error) {
	opLogger := logging.WithOperation(s.logger, "tips.load", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTipsLoadFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		opLogger.Warn("tips request failed", zap.Error(err), zap.String("url", s.url))
		return nil, fmt.Errorf("%w: %v", ErrTipsLoadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		opLogger.Warn("tips document unavailable", zap.Int("status", resp.StatusCode), zap.String("url", s.url))
		return nil, fmt.Errorf("%w: status %d", ErrTipsLoadFailed, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTipsLoadFailed, err)
	}

	var tips []Tip
	if err := json.Unmarshal(raw, &tips); err != nil {
		opLogger.Warn("tips document is not a tip list", zap.Error(err))
		return nil, fmt.Errorf("%w: decode: %v", ErrTipsLoadFailed, err)
	}

	opLogger.Info("tips loaded", zap.Int("count", len(tips)))
	return tips, nil
}
