package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-analysis/internal/controller"
	"github.com/example/face-analysis/internal/events"
	"github.com/example/face-analysis/internal/logging"
	"github.com/example/face-analysis/internal/normalizer"
	"github.com/example/face-analysis/internal/prediction"
	"github.com/example/face-analysis/internal/preview"
	"github.com/example/face-analysis/internal/session"
	"github.com/example/face-analysis/internal/tips"
)

// MaxUploadSize is the default limit for a selected image.
const MaxUploadSize = 10 << 20

// multipartSlack covers the form boundaries and headers around the image part.
const multipartSlack = 1 << 20

const eventBuffer = 16

// Dependencies are the collaborators the routes operate on.
type Dependencies struct {
	Sessions      *session.Store
	Previews      *preview.Store
	Events        *events.Hub[controller.View]
	MaxUploadSize int64
	Logger        *zap.Logger
}

type viewResponse struct {
	View  controller.View `json:"view"`
	Error string          `json:"error,omitempty"`
}

// RegisterRoutes wires the widget host handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("handlers")
	maxUpload := deps.MaxUploadSize
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": deps.Sessions.Len()})
	})

	router.GET("/previews/:ref", func(c *gin.Context) {
		data, mimeType, ok := deps.Previews.Get(c.Param("ref"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, mimeType, data)
	})

	api := router.Group("/api/sessions")

	api.POST("", func(c *gin.Context) {
		ctrl := deps.Sessions.Create()
		c.JSON(http.StatusCreated, viewResponse{View: ctrl.View()})
	})

	api.GET("/:id", withSession(deps.Sessions, func(c *gin.Context, ctrl *controller.Controller) {
		c.JSON(http.StatusOK, viewResponse{View: ctrl.View()})
	}))

	api.DELETE("/:id", func(c *gin.Context) {
		if !deps.Sessions.Delete(c.Param("id")) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/:id/image", withSession(deps.Sessions, func(c *gin.Context, ctrl *controller.Controller) {
		if c.Request.ContentLength > maxUpload+multipartSlack {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload+multipartSlack)

		file, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		origin, ok := parseOrigin(c.PostForm("source"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source must be picker or camera"})
			return
		}

		contentType := file.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported media type"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		err = ctrl.SelectImage(c.Request.Context(), normalizer.SourceImage{
			Data:     data,
			MIMEType: contentType,
			Filename: file.Filename,
			Origin:   origin,
		})
		respond(c, logger, ctrl, err)
	}))

	api.POST("/:id/submit", withSession(deps.Sessions, func(c *gin.Context, ctrl *controller.Controller) {
		respond(c, logger, ctrl, ctrl.Submit(c.Request.Context()))
	}))

	api.POST("/:id/tips", withSession(deps.Sessions, func(c *gin.Context, ctrl *controller.Controller) {
		respond(c, logger, ctrl, ctrl.RequestTips(c.Request.Context()))
	}))

	api.GET("/:id/events", withSession(deps.Sessions, func(c *gin.Context, ctrl *controller.Controller) {
		views, cancel := deps.Events.Watch(ctrl.ID(), eventBuffer)
		defer cancel()

		logger.Debug("event stream opened", zap.String("session_id", ctrl.ID()))
		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("view", ctrl.View())
		c.Writer.Flush()

		c.Stream(func(w io.Writer) bool {
			select {
			case view, ok := <-views:
				if !ok {
					return false
				}
				c.SSEvent("view", view)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
		logger.Debug("event stream closed", zap.String("session_id", ctrl.ID()))
	}))
}

func withSession(sessions *session.Store, next func(*gin.Context, *controller.Controller)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctrl, ok := sessions.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		next(c, ctrl)
	}
}

// respond always answers with the current view; action failures are
// reported alongside it because the session stays usable.
func respond(c *gin.Context, logger *zap.Logger, ctrl *controller.Controller, err error) {
	code := errorCode(err)
	if code != "" {
		logger.Debug("session action reported an error",
			append(logging.ErrorFields(err), zap.String("code", code))...)
	}
	c.JSON(http.StatusOK, viewResponse{View: ctrl.View(), Error: code})
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, normalizer.ErrDecodeFailed):
		return "decode_failed"
	case errors.Is(err, prediction.ErrPredictionFailed):
		return "prediction_failed"
	case errors.Is(err, tips.ErrTipsLoadFailed):
		return "tips_load_failed"
	case errors.Is(err, controller.ErrNoImageSelected):
		return "no_image_selected"
	case errors.Is(err, controller.ErrSubmitInFlight):
		return "submit_in_flight"
	case errors.Is(err, controller.ErrSelectionSuperseded):
		return "selection_superseded"
	case errors.Is(err, controller.ErrSessionClosed):
		return "session_closed"
	default:
		return "internal"
	}
}

func parseOrigin(v string) (normalizer.Origin, bool) {
	switch normalizer.Origin(v) {
	case "", normalizer.OriginPicker:
		return normalizer.OriginPicker, true
	case normalizer.OriginCamera:
		return normalizer.OriginCamera, true
	default:
		return "", false
	}
}
