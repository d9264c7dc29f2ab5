package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Angelo-oinv/imx415-detector/detections"
	"github.com/Angelo-oinv/imx415-detector/logger"
	"github.com/Angelo-oinv/imx415-detector/models"
	"github.com/Angelo-oinv/imx415-detector/monitor"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AppState carries what the HTTP handlers need.
type AppState struct {
	Detector *detections.Detector
	Pool     *EnginePool
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func newRouter(state *AppState) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/detect", handleDetect(state)).Methods("POST")
	r.HandleFunc("/healthz", handleHealthz).Methods("GET")
	r.HandleFunc("/metrics", state.handleMetrics).Methods("GET")
	return r
}

// runServer serves the detection API until ctx is cancelled. Responses
// from /detect use the same record shape as the frame loop.
func runServer(ctx context.Context, addr string, state *AppState) error {
	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Log().Info("http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func handleDetect(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		timings := &models.Timings{RequestID: requestID}

		imgBytes, err := readImagePayload(r)
		if err != nil {
			sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		eng, err := state.Pool.Acquire(r.Context())
		if err != nil {
			sendErrorResponse(w, "engine_unavailable", err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer state.Pool.Release(eng)

		record, detectErr := state.Detector.Detect(eng, imgBytes, timings)
		timings.Total = time.Since(startTotal)
		logTimings(timings)
		if timings.Inference > 0 {
			monitor.ObserveInference(timings.Inference)
		}

		status := http.StatusOK
		if detectErr != nil {
			monitor.FrameFailed()
			logger.Log().Warn("request failed",
				zap.String("request_id", requestID),
				zap.Error(detectErr))
			if errors.Is(detectErr, detections.ErrDecodeImage) {
				status = http.StatusBadRequest
			} else {
				status = http.StatusInternalServerError
			}
		} else {
			monitor.FrameProcessed(len(record.Detections))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-ID", requestID)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(record)
	}
}

// readImagePayload accepts three request forms: a JSON body with a
// base64 image field, a multipart upload under "file", or raw image
// bytes.
func readImagePayload(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		var req struct {
			Image string `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(req.Image)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			return nil, err
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	default:
		return io.ReadAll(r.Body)
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.Pool.Metrics()
	response := map[string]interface{}{
		"pool_size":        s.Pool.Size(),
		"engines_in_use":   m.InUse,
		"total_acquired":   m.TotalAcquired,
		"total_released":   m.TotalReleased,
		"acquire_failures": m.AcquireFailures,
		"replacements":     m.Replacements,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}
