package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/jmhodges/clock"

	"spacecal/internal/config"
	apperr "spacecal/internal/errors"
	"spacecal/internal/ics"
	appLog "spacecal/internal/log"
	"spacecal/internal/model"
	"spacecal/internal/notify"
	"spacecal/internal/scheduler"
	"spacecal/internal/store"
)

// maxImportBytes caps an uploaded ICS file.
const maxImportBytes = 5 << 20

// Server exposes the calendar-alarm scheduler over HTTP/JSON. Every /api
// request runs against the signed-in user's scheduler session.
type Server struct {
	cfg      *config.Config
	store    store.Store
	sessions *scheduler.Manager
	inbox    *notify.Inbox
	importer *ics.Importer
	clk      clock.Clock
	mux      *http.ServeMux
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Store    store.Store
	Sessions *scheduler.Manager
	Inbox    *notify.Inbox
	Importer *ics.Importer
	Clock    clock.Clock
}

//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	s := &Server{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		inbox:    deps.Inbox,
		importer: deps.Importer,
		clk:      deps.Clock,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the server's handler with recovery, request ids and
// basic auth applied.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware, requestIDMiddleware, s.basicAuthMiddleware)
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/calendar", s.withSession(s.handleCalendar))
	s.mux.HandleFunc("GET /api/events", s.withSession(s.handleListEvents))
	s.mux.HandleFunc("POST /api/events", s.withSession(s.handleCreateEvent))
	s.mux.HandleFunc("POST /api/events/{id}/toggle", s.withSession(s.handleToggleEvent))
	s.mux.HandleFunc("DELETE /api/events/{id}", s.withSession(s.handleDeleteEvent))
	s.mux.HandleFunc("GET /api/alarms", s.withSession(s.handleListAlarms))
	s.mux.HandleFunc("DELETE /api/alarms/{id}", s.withSession(s.handleDismissAlarm))
	s.mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	s.mux.HandleFunc("POST /api/import", s.withSession(s.handleImport))
	s.mux.HandleFunc("GET /api/export.ics", s.withSession(s.handleExport))
	s.mux.HandleFunc("POST /api/logout", s.handleLogout)

	s.mux.Handle("/", s.staticFileServer())
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sched *scheduler.Scheduler)

// withSession resolves the signed-in user's scheduler. Without a user no
// store interaction happens.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sched, err := s.sessions.Acquire(currentUser(r.Context()))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		h(w, r, sched)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// calendarResponse is the JSON shape of /api/calendar.
type calendarResponse struct {
	Loaded  bool                `json:"loaded"`
	Grid    scheduler.MonthGrid `json:"grid"`
	Pending []model.Event       `json:"pending"`
}

func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request, sched *scheduler.Scheduler) {
	writeJSON(w, http.StatusOK, calendarResponse{
		Loaded:  sched.Loaded(),
		Grid:    sched.Grid(),
		Pending: sched.Pending(),
	})
}

// handleListEvents returns one day's events with ?date=YYYY-MM-DD, else
// the whole snapshot.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, sched *scheduler.Scheduler) {
	date := r.URL.Query().Get("date")
	if date == "" {
		writeJSON(w, http.StatusOK, sched.Events())
		return
	}
	day, err := model.ParseDate(date)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sched.EventsOn(day))
}

type createEventRequest struct {
	Text      string `json:"text"`
	Date      string `json:"date"`
	AlarmTime string `json:"alarmTime"`
}

type idResponse struct {
	ID string `json:"id"`
}

// handleCreateEvent answers 202: the event becomes visible once the feed
// delivers it.
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request, sched *scheduler.Scheduler) {
	var req createEventRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := sched.Create(r.Context(), req.Text, req.Date, req.AlarmTime)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, idResponse{ID: id})
}

func (s *Server) handleToggleEvent(w http.ResponseWriter, r *http.Request, sched *scheduler.Scheduler) {
	id := r.PathValue("id")
	if err := sched.Toggle(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, idResponse{ID: id})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request, sched *scheduler.Scheduler) {
	id := r.PathValue("id")
	if err := sched.Delete(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, idResponse{ID: id})
}

func (s *Server) handleListAlarms(w http.ResponseWriter, _ *http.Request, sched *scheduler.Scheduler) {
	writeJSON(w, http.StatusOK, sched.Pending())
}

func (s *Server) handleDismissAlarm(w http.ResponseWriter, r *http.Request, sched *scheduler.Scheduler) {
	if !sched.Dismiss(r.PathValue("id")) {
		writeError(w, r, http.StatusNotFound, "no pending alarm with that id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNotifications drains the user's toasts.
// handleNotifications drains the user's toasts. With ?after=<id> it only
// reads the toasts newer than id and leaves the inbox as it is, so several
// open pages can each poll it.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	raw := r.URL.Query().Get("after")
	if raw == "" {
		writeJSON(w, http.StatusOK, s.inbox.Drain(user))
		return
	}
	after, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "after must be a notice id")
		return
	}
	writeJSON(w, http.StatusOK, s.inbox.Since(user, after))
}

// handleImport creates this month's occurrences from an uploaded ICS
// body, skipping events the user already has.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, sched *scheduler.Scheduler) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to read body")
		return
	}
	existing, err := store.Snapshot(r.Context(), s.store, sched.UserID())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := s.importer.ImportBody(r.Context(), sched.UserID(), existing, ics.Source{ID: "upload"}, body)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.inbox.Notify(notify.Notice{
		UserID:   sched.UserID(),
		Severity: notify.Success,
		Message:  "Imported cosmic events from calendar",
		At:       s.clk.Now(),
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request, sched *scheduler.Scheduler) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="spacecal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ics.Export(sched.Events(), s.clk.Now()))
}

// handleLogout ends the user's scheduler session: its feed and alarm
// loop stop until the next request.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Release(currentUser(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// staticFileServer serves the embedded single-page UI.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Unknown /api paths are 404s, never the UI.
		if requiresAuth(r.URL.Path) {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: requestID(r.Context())})
}

// writeAppError maps the error taxonomy onto HTTP statuses.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.GetCode(err) == apperr.CodeNoUser:
		status = http.StatusUnauthorized
	case apperr.IsValidation(err):
		status = http.StatusBadRequest
	case apperr.IsNotFound(err):
		status = http.StatusNotFound
	case apperr.GetCode(err) == apperr.CodeStoreClosed:
		status = http.StatusServiceUnavailable
	case apperr.GetCategory(err) == apperr.ErrCategoryImport:
		status = http.StatusBadRequest
	case apperr.GetCategory(err) == apperr.ErrCategoryStore,
		apperr.GetCategory(err) == apperr.ErrCategorySubscription:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		appLog.Error("api request failed", err, "request_id", requestID(r.Context()), "path", r.URL.Path)
	}
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Code:      apperr.GetCode(err),
		RequestID: requestID(r.Context()),
	})
}
