package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/CK6170/Sorensen-go/models"
	"github.com/CK6170/Sorensen-go/modern"
	serialpkg "github.com/CK6170/Sorensen-go/serial"
)

const defaultRampTolerance = 0.05

type DeviceSession struct {
	mu sync.Mutex

	configID string
	sess     *modern.Session

	// One active operation at a time
	opCancel context.CancelFunc
	opKind   string
}

type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger

	store *ConfigStore
	dev   *DeviceSession

	opener serialpkg.Opener
	detect func(*models.PARAMETERS) string

	// WebSocket hubs
	wsMonitor *WSHub
	wsRamp    *WSHub
}

func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		mux:       http.NewServeMux(),
		logger:    logger,
		store:     NewConfigStore(),
		dev:       &DeviceSession{},
		opener:    serialpkg.OpenTarm,
		detect:    serialpkg.AutoDetectPort,
		wsMonitor: NewWSHub(),
		wsRamp:    NewWSHub(),
	}
	// API
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/upload/config", s.handleUploadConfig)
	s.mux.HandleFunc("/api/download", s.handleDownload)
	s.mux.HandleFunc("/api/connect", s.handleConnect)
	s.mux.HandleFunc("/api/disconnect", s.handleDisconnect)

	s.mux.HandleFunc("/api/identification", s.handleIdentification)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/capabilities", s.handleCapabilities)
	s.mux.HandleFunc("/api/measure", s.handleMeasure)
	s.mux.HandleFunc("/api/sample", s.handleSample)

	s.mux.HandleFunc("/api/voltage", s.handleVoltage)
	s.mux.HandleFunc("/api/current", s.handleCurrent)
	s.mux.HandleFunc("/api/ramp", s.handleRamp)
	s.mux.HandleFunc("/api/ramp/stop", s.handleStopOp)

	s.mux.HandleFunc("/api/monitor/start", s.handleMonitorStart)
	s.mux.HandleFunc("/api/monitor/stop", s.handleStopOp)

	// WS
	s.mux.HandleFunc("/ws/monitor", s.handleWSMonitor)
	s.mux.HandleFunc("/ws/ramp", s.handleWSRamp)

	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Close stops any running operation and releases the port.
func (s *Server) Close() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.cancelLocked()
	return s.dev.disconnectLocked(true)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), APIError{Error: err.Error()})
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

var errNotConnected = errors.New("not connected")

// statusFor maps driver errors to HTTP codes. Anything the device failed to
// answer sensibly is a bad gateway.
func statusFor(err error) int {
	switch {
	case errors.Is(err, serialpkg.ErrRejectedSetpoint):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errNotConnected), errors.Is(err, serialpkg.ErrNotOpen):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// session returns the connected session or writes a 400.
func (s *Server) session(w http.ResponseWriter) *modern.Session {
	s.dev.mu.Lock()
	sess := s.dev.sess
	s.dev.mu.Unlock()
	if sess == nil {
		s.writeError(w, errNotConnected)
	}
	return sess
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	connected := s.dev.sess != nil && s.dev.sess.Supply.IsConnected()
	s.dev.mu.Unlock()
	s.writeJSON(w, 200, HealthResponse{OK: true, Timestamp: time.Now(), Connected: connected})
}

func (s *Server) handleUploadConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	f, hdr, err := fileFromMultipart(r, "file")
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, 1<<20))
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	name := filepath.Base(hdr.Filename)
	p, err := modern.DecodeParameters(name, raw)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	rec := s.store.Put(name, raw, p)
	s.writeJSON(w, 200, UploadResponse{ConfigID: rec.ID, Name: rec.Name})
}

func fileFromMultipart(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(2 << 20); err != nil {
		return nil, nil, err
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, nil, err
	}
	return f, hdr, nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeJSON(w, 400, APIError{Error: "missing id"})
		return
	}
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeJSON(w, 404, APIError{Error: "not found"})
		return
	}
	ctype := "application/json"
	if strings.HasSuffix(strings.ToLower(rec.Name), ".yaml") || strings.HasSuffix(strings.ToLower(rec.Name), ".yml") {
		ctype = "application/yaml"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name))
	w.WriteHeader(200)
	_, _ = w.Write(rec.Raw)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ConnectRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	rec, ok := s.store.Get(req.ConfigID)
	if !ok {
		s.writeJSON(w, 404, APIError{Error: "configId not found (upload a config first)"})
		return
	}

	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	s.dev.cancelLocked()
	_ = s.dev.disconnectLocked(false)

	// the stored record is shared with other requests
	p := rec.P.Clone()
	if strings.TrimSpace(p.SERIAL.PORT) == "" {
		port := s.detect(p)
		if port == "" {
			s.writeJSON(w, 400, APIError{Error: "could not auto-detect serial port"})
			return
		}
		p.SERIAL.PORT = port
	}

	sess, err := modern.ConnectWith(p, s.opener, s.logger)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	idn, err := modern.ProbeIdentification(sess)
	if err != nil {
		_ = sess.Close(false)
		s.writeJSON(w, 400, APIError{Error: "device identification probe failed: " + err.Error()})
		return
	}

	s.dev.configID = rec.ID
	s.dev.sess = sess
	s.logger.Info("connected", slog.String("port", p.SERIAL.PORT), slog.String("idn", idn))

	resp := ConnectResponse{Connected: true, Port: p.SERIAL.PORT, Identification: idn}
	if caps, known := sess.Supply.Capabilities(); known {
		resp.Capabilities = &caps
	}
	s.writeJSON(w, 200, resp)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req DisconnectRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	returnToLocal := req.ReturnToLocal == nil || *req.ReturnToLocal

	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.cancelLocked()
	if err := s.dev.disconnectLocked(returnToLocal); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleStopOp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.cancelLocked()
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (d *DeviceSession) cancelLocked() {
	if d.opCancel != nil {
		d.opCancel()
		d.opCancel = nil
		d.opKind = ""
	}
}

func (d *DeviceSession) disconnectLocked(returnToLocal bool) error {
	var err error
	if d.sess != nil {
		err = d.sess.Close(returnToLocal)
	}
	d.sess = nil
	d.configID = ""
	return err
}

// startOpLocked cancels whatever was running and registers a new operation.
func (d *DeviceSession) startOpLocked(kind string) context.Context {
	d.cancelLocked()
	ctx, cancel := context.WithCancel(context.Background())
	d.opCancel = cancel
	d.opKind = kind
	return ctx
}

func (s *Server) handleIdentification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	sess := s.session(w)
	if sess == nil {
		return
	}
	idn, err := sess.Supply.GetIdentification()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, map[string]string{"identification": idn})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	sess := s.session(w)
	if sess == nil {
		return
	}
	st, err := sess.Supply.GetStatus()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, st)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	sess := s.session(w)
	if sess == nil {
		return
	}
	force := r.URL.Query().Get("force") == "1"
	model, err := sess.Supply.GetModel(force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	caps, _ := sess.Supply.Capabilities()
	caps.Model = model
	s.writeJSON(w, 200, caps)
}

func (s *Server) handleMeasure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	sess := s.session(w)
	if sess == nil {
		return
	}
	v, err := sess.Supply.GetOutputVoltage()
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := sess.Supply.GetOutputCurrent()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, MeasureResponse{Voltage: v, Current: c})
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req SampleRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if req.Samples <= 0 || req.Samples > 1000 {
		s.writeJSON(w, 400, APIError{Error: "samples must be within 1..1000"})
		return
	}
	sess := s.session(w)
	if sess == nil {
		return
	}
	stats, err := modern.SampleOutputs(r.Context(), sess, req.Samples, time.Duration(req.IntervalMs)*time.Millisecond, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, stats)
}

func (s *Server) handleVoltage(w http.ResponseWriter, r *http.Request) {
	s.handleSetpoint(w, r, modern.ApplyVoltage)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	s.handleSetpoint(w, r, modern.ApplyCurrent)
}

func (s *Server) handleSetpoint(w http.ResponseWriter, r *http.Request, apply func(*modern.Session, float64) error) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req SetpointRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	sess := s.session(w)
	if sess == nil {
		return
	}
	if err := apply(sess, req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleRamp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req RampRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if req.Tolerance <= 0 {
		req.Tolerance = defaultRampTolerance
	}

	s.dev.mu.Lock()
	sess := s.dev.sess
	if sess == nil {
		s.dev.mu.Unlock()
		s.writeError(w, errNotConnected)
		return
	}
	if err := modern.ApplyVoltageRamp(sess, req.Voltage, req.Seconds); err != nil {
		s.dev.mu.Unlock()
		s.writeError(w, err)
		return
	}
	ctx := s.dev.startOpLocked("ramp")
	s.dev.mu.Unlock()

	go func() {
		v, err := modern.WaitForVoltage(ctx, sess, req.Voltage, req.Seconds, req.Tolerance, func(p modern.RampProgress) {
			s.wsRamp.Broadcast(WSMessage{Type: "progress", Data: p})
		})
		if errors.Is(err, context.Canceled) {
			s.wsRamp.Broadcast(WSMessage{Type: "stopped"})
			return
		}
		if err != nil {
			s.wsRamp.Broadcast(errorMessage(err))
			return
		}
		s.wsRamp.Broadcast(WSMessage{Type: "done", Data: map[string]float64{"voltage": v}})
	}()

	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	sess := s.dev.sess
	if sess == nil {
		s.dev.mu.Unlock()
		s.writeError(w, errNotConnected)
		return
	}
	ctx := s.dev.startOpLocked("monitor")
	s.dev.mu.Unlock()

	interval := time.Duration(sess.Params.POLL) * time.Millisecond
	go func() {
		err := modern.PollStatus(ctx, sess, interval, func(snap modern.Snapshot) {
			s.wsMonitor.Broadcast(WSMessage{Type: "snapshot", Data: snap})
		})
		if errors.Is(err, context.Canceled) {
			s.wsMonitor.Broadcast(WSMessage{Type: "stopped"})
			return
		}
		if err != nil {
			s.wsMonitor.Broadcast(errorMessage(err))
		}
	}()

	s.writeJSON(w, 200, map[string]bool{"ok": true})
}
