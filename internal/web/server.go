package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"servod/internal/servo"
)

// Controller is the actuator surface exposed over HTTP. Implementations must
// be safe to call concurrently; *servo.Service is.
type Controller interface {
	SetAngle(deg float64) servo.Snapshot
	SetRaw(ticks uint32) servo.Snapshot
	Snapshot() servo.Snapshot
	Table() servo.Table
}

const maxBodyBytes = 4 << 10

type StatusResponse struct {
	Service   string         `json:"service"`
	NowUTC    string         `json:"now_utc"`
	UptimeSec int64          `json:"uptime_sec"`
	Servo     servo.Snapshot `json:"servo"`
}

type CalibrationResponse struct {
	AngleLimitDeg float64       `json:"angle_limit_deg"`
	Points        []servo.Point `json:"points"`
}

type AngleRequest struct {
	AngleDeg *float64 `json:"angle_deg"`
}

type RawRequest struct {
	Ticks *uint32 `json:"ticks"`
}

func Handler(ctl Controller, logs *LogBuffer) http.Handler {
	startedAt := time.Now().UTC()
	mux := http.NewServeMux()

	status := func(now time.Time) StatusResponse {
		return StatusResponse{
			Service:   serviceName,
			NowUTC:    now.Format(time.RFC3339Nano),
			UptimeSec: int64(now.Sub(startedAt).Seconds()),
			Servo:     ctl.Snapshot(),
		}
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, status(time.Now().UTC()))
	})

	mux.HandleFunc("/api/servo/angle", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		var req AngleRequest
		if err := decodeBody(w, r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.AngleDeg == nil {
			http.Error(w, "angle_deg is required", http.StatusBadRequest)
			return
		}
		writeJSON(w, ctl.SetAngle(*req.AngleDeg))
	})

	mux.HandleFunc("/api/servo/raw", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		var req RawRequest
		if err := decodeBody(w, r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Ticks == nil {
			http.Error(w, "ticks is required", http.StatusBadRequest)
			return
		}
		writeJSON(w, ctl.SetRaw(*req.Ticks))
	})

	mux.HandleFunc("/api/calibration", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, CalibrationResponse{AngleLimitDeg: servo.AngleLimit, Points: ctl.Table()})
	})

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	mux.Handle("/api/about", AboutHandler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		st := status(time.Now().UTC())
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>servod</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>servod</h1><p>API: <a href=\"/api/status\">/api/status</a>, <a href=\"/api/calibration\">/api/calibration</a>, <a href=\"/api/logs?format=text\">/api/logs</a></p>")
		_, _ = fmt.Fprintf(w, "<pre>backend=%s\nbound=%t\nangle_deg=%.2f\ncompare_ticks=%d\nlast_error=%s</pre>",
			html.EscapeString(st.Servo.Backend), st.Servo.Bound, st.Servo.AngleDeg, st.Servo.CompareTicks, html.EscapeString(st.Servo.LastError),
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func Serve(ctx context.Context, listenAddr string, ctl Controller, logs *LogBuffer) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(ctl, logs),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
