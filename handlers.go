package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dooh-web/landmark-detector/detections"
	"github.com/dooh-web/landmark-detector/models"
	"github.com/dooh-web/landmark-detector/render"
)

type DetectionView struct {
	models.Detection
	Label   string `json:"label"`
	Caption string `json:"caption"`
}

type DetectResponse struct {
	RequestID  string          `json:"request_id"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Count      int             `json:"count"`
	Message    string          `json:"message"`
	Detections []DetectionView `json:"detections"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// apiError carries the response code and status for errors raised while
// reading a request.
type apiError struct {
	code   string
	status int
	err    error
}

func (e *apiError) Error() string { return e.err.Error() }

func (e *apiError) Unwrap() error { return e.err }

func badRequest(code string, err error) error {
	return &apiError{code: code, status: http.StatusBadRequest, err: err}
}

// errorStatus maps an error to its response code and HTTP status.
func errorStatus(err error) (string, int) {
	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.code, apiErr.status
	case errors.Is(err, detections.ErrInvalidImageDimensions):
		return "invalid_dimensions", http.StatusUnprocessableEntity
	case errors.Is(err, errPoolTimeout), errors.Is(err, errPoolClosed):
		return "engine_unavailable", http.StatusServiceUnavailable
	case errors.Is(err, detections.ErrInferenceFailure):
		return "inference_failure", http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", http.StatusGatewayTimeout
	default:
		return "processing_error", http.StatusInternalServerError
	}
}

var errorMessages = map[string]string{
	"invalid_request":    "Could not read an image from the request",
	"invalid_image":      "Failed to decode image",
	"invalid_dimensions": "Image has no usable pixels",
	"engine_unavailable": "No detection engine available, try again later",
	"inference_failure":  "The detection model failed to run",
	"timeout":            "Detection timed out",
	"processing_error":   "Failed to process image",
}

func handleDetect(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		timings := &models.ProcessingTimings{RequestID: requestID(r)}
		w.Header().Set("X-Request-ID", timings.RequestID)

		img, dets, err := state.process(w, r, timings)
		if err != nil {
			state.sendError(w, timings.RequestID, err)
			return
		}

		timings.Total = time.Since(startTotal)
		logTimings(state.Logger, timings)

		views := make([]DetectionView, len(dets))
		for i, d := range dets {
			views[i] = DetectionView{Detection: d, Label: state.Labels.Label(d.ClassID), Caption: state.Labels.Caption(d)}
		}
		topLabel := ""
		if len(dets) > 0 {
			topLabel = views[0].Label
		}

		b := img.Bounds()
		writeJSON(w, http.StatusOK, DetectResponse{
			RequestID:  timings.RequestID,
			Width:      b.Dx(),
			Height:     b.Dy(),
			Count:      len(dets),
			Message:    detectionMessage(len(dets), topLabel),
			Detections: views,
		})
	}
}

func handleAnnotate(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		timings := &models.ProcessingTimings{RequestID: requestID(r)}
		w.Header().Set("X-Request-ID", timings.RequestID)

		style, err := styleFromQuery(state.Style, r)
		if err != nil {
			state.sendError(w, timings.RequestID, err)
			return
		}

		img, dets, err := state.process(w, r, timings)
		if err != nil {
			state.sendError(w, timings.RequestID, err)
			return
		}

		annotated := render.Annotate(img, dets, state.Labels, style)
		timings.Total = time.Since(startTotal)
		logTimings(state.Logger, timings)

		var buf bytes.Buffer
		if err := render.EncodePNG(&buf, annotated); err != nil {
			state.sendError(w, timings.RequestID, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Detection-Count", strconv.Itoa(len(dets)))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

// styleFromQuery applies the optional "phase" and "overlay" query parameters.
func styleFromQuery(base render.Style, r *http.Request) (render.Style, error) {
	style := base
	q := r.URL.Query()
	if v := q.Get("phase"); v != "" {
		phase, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return base, badRequest("invalid_request", errors.Wrap(err, "phase"))
		}
		style.Phase = phase
	}
	if v := q.Get("overlay"); v != "" {
		overlay, err := strconv.ParseBool(v)
		if err != nil {
			return base, badRequest("invalid_request", errors.Wrap(err, "overlay"))
		}
		style.Overlay = overlay
	}
	return style, nil
}

// process reads and decodes the uploaded image, shrinks it to the upload
// limit and runs detection on it. Detections are in the returned image's
// coordinates.
func (s *AppState) process(w http.ResponseWriter, r *http.Request, timings *models.ProcessingTimings) (image.Image, []models.Detection, error) {
	maxBytes := s.Config.Upload.MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	imgBytes, err := readImageBytes(r, maxBytes)
	if err != nil {
		return nil, nil, badRequest("invalid_request", err)
	}

	decodeStart := time.Now()
	img, err := decodeImage(imgBytes)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return nil, nil, badRequest("invalid_image", err)
	}

	img = detections.FitWithin(img, s.Config.Upload.MaxDimension)

	dets, err := s.detect(r.Context(), img, timings)
	if err != nil {
		return nil, nil, err
	}
	return img, dets, nil
}

// detect retries inference failures with a linear backoff. Other errors are
// returned at once.
func (s *AppState) detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.Detection, error) {
	attempts := s.Config.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := s.Config.Retry.Delay * time.Duration(attempt-1)
			s.Logger.WithFields(logrus.Fields{
				"request_id": timings.RequestID,
				"attempt":    attempt,
				"delay":      delay,
			}).WithError(lastErr).Warn("retrying inference")

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		dets, err := s.detectOnce(ctx, img, timings)
		if err == nil {
			return dets, nil
		}
		lastErr = err
		if !errors.Is(err, detections.ErrInferenceFailure) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *AppState) detectOnce(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.Detection, error) {
	engine, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	detector, err := detections.NewDetector(engine, s.Detector, s.Logger.WithField("request_id", timings.RequestID))
	if err != nil {
		s.Pool.Release(engine)
		return nil, err
	}

	dets, err := detector.Detect(ctx, img, timings)
	if errors.Is(err, detections.ErrInferenceFailure) {
		s.Pool.Discard(engine)
	} else {
		s.Pool.Release(engine)
	}
	return dets, err
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Pool.Snapshot())
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.Pool.Snapshot()
	status, code := "ok", http.StatusOK
	if snap.LiveEngines == 0 {
		status, code = "unavailable", http.StatusServiceUnavailable
	} else if snap.LiveEngines < snap.PoolSize {
		status = "degraded"
	}

	writeJSON(w, code, map[string]interface{}{
		"status":       status,
		"live_engines": snap.LiveEngines,
		"pool_size":    snap.PoolSize,
		"schema":       s.Detector.Schema.String(),
	})
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

func readImageBytes(r *http.Request, maxBytes int64) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		return handleJSONRequest(r)
	case "multipart/form-data":
		return handleMultipartRequest(r, maxBytes)
	default:
		return handleRawRequest(r)
	}
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(err, "decode json body")
	}
	if req.Image == "" {
		return nil, errors.New("missing image field")
	}
	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		return nil, errors.Wrap(err, "decode base64 image")
	}
	return data, nil
}

func handleMultipartRequest(r *http.Request, maxBytes int64) ([]byte, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, errors.Wrap(err, "parse multipart form")
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.Wrap(err, "read file field")
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return data, nil
}

func decodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

func (s *AppState) sendError(w http.ResponseWriter, requestID string, err error) {
	code, status := errorStatus(err)
	entry := s.Logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"code":       code,
		"status":     status,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}

	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: errorMessages[code],
		Details: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
