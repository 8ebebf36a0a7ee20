package controller

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/example/face-analysis/internal/logging"
	"github.com/example/face-analysis/internal/normalizer"
	"github.com/example/face-analysis/internal/prediction"
	"github.com/example/face-analysis/internal/tips"
)

var (
	// ErrNoImageSelected is returned by Submit before any image was selected.
	ErrNoImageSelected = errors.New("no image selected")
	// ErrSubmitInFlight is returned by Submit while a prediction is pending.
	ErrSubmitInFlight = errors.New("prediction already in flight")
	// ErrSelectionSuperseded is returned by SelectImage when a newer
	// selection started before this one finished normalizing.
	ErrSelectionSuperseded = errors.New("image selection superseded")
	// ErrSessionClosed is returned by actions on a controller after Close.
	ErrSessionClosed = errors.New("session closed")
)

// ImageNormalizer turns a user file into an uploadable image.
type ImageNormalizer interface {
	Normalize(ctx context.Context, src normalizer.SourceImage) (*normalizer.NormalizedImage, error)
}

// Predictor performs one exchange with the classification service.
type Predictor interface {
	Predict(ctx context.Context, img *normalizer.NormalizedImage) (*prediction.Result, error)
}

// TipsLoader fetches the static tips document.
type TipsLoader interface {
	Load(ctx context.Context) ([]tips.Tip, error)
}

// PreviewStore issues and releases transient preview references.
type PreviewStore interface {
	Put(data []byte, mimeType string) string
	Release(ref string)
}

// Publisher receives a view after every committed state change. It is
// called with the controller lock held and must not call back into the
// controller.
type Publisher interface {
	Publish(sessionID string, view View)
}

// SessionState is everything the widget shows for one session.
type SessionState struct {
	SelectedImage *normalizer.NormalizedImage
	Preview       string
	Prediction    *prediction.Result
	Loading       bool
	Tips          []tips.Tip
	TipsLoaded    bool
	TipCursor     int
	TipsVisible   bool
}

// Dependencies bundles the collaborators of a Controller.
type Dependencies struct {
	Normalizer ImageNormalizer
	Predictor  Predictor
	Tips       TipsLoader
	Previews   PreviewStore
	Publisher  Publisher
	Logger     *zap.Logger
}

// Controller owns the session state and applies user actions to it.
type Controller struct {
	id         string
	normalizer ImageNormalizer
	predictor  Predictor
	tips       TipsLoader
	previews   PreviewStore
	publisher  Publisher
	logger     *zap.Logger

	mu    sync.Mutex
	state SessionState
	// selectGen counts SelectImage calls; imageGen counts committed images.
	selectGen uint64
	imageGen  uint64
	closed    bool
}

// New creates an idle controller for session id.
func New(id string, deps Dependencies) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		id:         id,
		normalizer: deps.Normalizer,
		predictor:  deps.Predictor,
		tips:       deps.Tips,
		previews:   deps.Previews,
		publisher:  deps.Publisher,
		logger:     logger.Named("controller").With(zap.String("session_id", id)),
	}
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// SelectImage normalizes src and makes it the current image. On failure the
// previous image stays selected. When several selections overlap, the one
// started last wins.
func (c *Controller) SelectImage(ctx context.Context, src normalizer.SourceImage) error {
	const op = "controller.select_image"
	opLogger := logging.WithOperation(c.logger, op, "")

	c.mu.Lock()
	c.selectGen++
	gen := c.selectGen
	c.mu.Unlock()

	img, err := c.normalizer.Normalize(ctx, src)
	if err != nil {
		opLogger.Warn("image selection ignored", zap.Error(err), zap.String("filename", src.Filename))
		return logging.NewOperationError(op, c.id, err)
	}

	ref := c.previews.Put(img.Data, img.MIMEType)

	c.mu.Lock()
	if gen != c.selectGen || c.closed {
		c.mu.Unlock()
		c.previews.Release(ref)
		opLogger.Debug("discarding stale image selection", zap.Uint64("generation", gen))
		return logging.NewOperationError(op, c.id, ErrSelectionSuperseded)
	}
	replaced := c.state.Preview
	c.state.SelectedImage = img
	c.state.Preview = ref
	c.state.Prediction = nil
	c.imageGen++
	c.publishLocked()
	c.mu.Unlock()

	if replaced != "" {
		c.previews.Release(replaced)
	}
	opLogger.Info("image selected",
		zap.String("origin", string(src.Origin)),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.Bool("resized", img.Resized),
	)
	return nil
}

// Submit sends the selected image for prediction and waits for the answer.
// It is a no-op while another submission is pending. Loading is always
// released when the call returns.
func (c *Controller) Submit(ctx context.Context) error {
	const op = "controller.submit"
	opLogger := logging.WithOperation(c.logger, op, "")

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.state.Loading {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	if c.state.SelectedImage == nil {
		c.mu.Unlock()
		opLogger.Warn("submit without a selected image")
		return ErrNoImageSelected
	}
	img := c.state.SelectedImage
	gen := c.imageGen
	c.state.Loading = true
	c.publishLocked()
	c.mu.Unlock()

	result, err := c.predictor.Predict(ctx, img)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Loading = false
	if gen != c.imageGen {
		// A newer image was selected meanwhile; its state already has no prediction.
		opLogger.Debug("ignoring prediction for a replaced image")
		c.publishLocked()
		return nil
	}
	if err != nil {
		c.state.Prediction = nil
		c.publishLocked()
		opLogger.Error("prediction failed", zap.Error(err))
		return logging.NewOperationError(op, c.id, err)
	}
	c.state.Prediction = result
	c.publishLocked()
	opLogger.Info("prediction applied", zap.Int("conditions", result.Predictions.Len()))
	return nil
}

// RequestTips reveals the tips panel. The first call loads the tips
// document; later calls advance the cursor, wrapping at the list length.
func (c *Controller) RequestTips(ctx context.Context) error {
	const op = "controller.request_tips"

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.state.TipsLoaded {
		c.advanceTipsLocked()
		c.publishLocked()
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	loaded, err := c.tips.Load(ctx)
	if err != nil {
		logging.WithOperation(c.logger, op, "").Warn("tips unavailable", zap.Error(err))
		return logging.NewOperationError(op, c.id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if c.state.TipsLoaded {
		// A concurrent request loaded them first; count this one as an advance.
		c.advanceTipsLocked()
	} else {
		c.state.Tips = loaded
		c.state.TipsLoaded = true
		c.state.TipCursor = 1
		c.state.TipsVisible = true
	}
	c.publishLocked()
	return nil
}

func (c *Controller) advanceTipsLocked() {
	if n := len(c.state.Tips); n > 0 {
		c.state.TipCursor = c.state.TipCursor%n + 1
	}
	c.state.TipsVisible = true
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Tips = append([]tips.Tip(nil), c.state.Tips...)
	return s
}

// View renders the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Render(c.id, c.state)
}

// Close ends the session and releases its preview. Pending operations that
// complete afterwards are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	ref := c.state.Preview
	c.state.Preview = ""
	c.closed = true
	c.mu.Unlock()

	if ref != "" {
		c.previews.Release(ref)
	}
}

func (c *Controller) publishLocked() {
	if c.publisher != nil {
		c.publisher.Publish(c.id, Render(c.id, c.state))
	}
}
