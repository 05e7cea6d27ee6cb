// Package api exposes the installer operations as a local JSON HTTP API,
// consumed by the desktop shell.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/backup"
	"github.com/clawdesk/clawdesk/internal/configurer"
	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/installer"
	"github.com/clawdesk/clawdesk/internal/ops"
	"github.com/clawdesk/clawdesk/internal/supervisor"
)

// requestTimeout bounds a single API call. Install and upgrade do real
// package work, so the bound is generous.
const requestTimeout = 15 * time.Minute

// Server serves the installer API on a loopback listener.
type Server struct {
	manager *ops.Manager
	http    *http.Server
}

func NewServer(manager *ops.Manager, addr string) *Server {
	s := &Server{manager: manager}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve() error {
	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	log.Infof("API listening on %s", listener.Addr())
	err = s.http.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) router() *mux.Router {
	root := mux.NewRouter()
	r := root.PathPrefix("/api/v1").Subrouter()

	r.HandleFunc("/env/check", s.checkEnv).Methods(http.MethodGet)
	r.HandleFunc("/env/install", s.installEnv).Methods(http.MethodPost)
	r.HandleFunc("/ports/release", s.releasePort).Methods(http.MethodPost)

	r.HandleFunc("/install/lock", s.installLock).Methods(http.MethodGet)
	r.HandleFunc("/install", s.install).Methods(http.MethodPost)
	r.HandleFunc("/install", s.uninstall).Methods(http.MethodDelete)
	r.HandleFunc("/upgrade", s.upgrade).Methods(http.MethodPost)

	r.HandleFunc("/config", s.configure).Methods(http.MethodPost)
	r.HandleFunc("/config", s.currentConfig).Methods(http.MethodGet)
	r.HandleFunc("/config/reload", s.reloadConfig).Methods(http.MethodPost)
	r.HandleFunc("/config/provider-key", s.updateProviderKey).Methods(http.MethodPut)
	r.HandleFunc("/config/model", s.switchModel).Methods(http.MethodPost)

	r.HandleFunc("/process/start", s.control(startAction)).Methods(http.MethodPost)
	r.HandleFunc("/process/stop", s.control(stopAction)).Methods(http.MethodPost)
	r.HandleFunc("/process/end", s.control(endAction)).Methods(http.MethodPost)
	r.HandleFunc("/process/restart", s.control(restartAction)).Methods(http.MethodPost)
	r.HandleFunc("/process/status", s.status).Methods(http.MethodGet)
	r.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)

	r.HandleFunc("/backups", s.createBackup).Methods(http.MethodPost)
	r.HandleFunc("/backups", s.listBackups).Methods(http.MethodGet)
	r.HandleFunc("/backups/{id}/rollback", s.rollback).Methods(http.MethodPost)

	r.HandleFunc("/security/scan", s.securityScan).Methods(http.MethodGet)

	r.HandleFunc("/logs", s.listLogs).Methods(http.MethodGet)
	r.HandleFunc("/logs/dir", s.logsDir).Methods(http.MethodGet)
	r.HandleFunc("/logs/{name}", s.readLog).Methods(http.MethodGet)
	r.HandleFunc("/logs/{name}/export", s.exportLog).Methods(http.MethodPost)

	r.HandleFunc("/cache/clear", s.clearCache).Methods(http.MethodPost)
	r.HandleFunc("/sessions/clear", s.clearSessions).Methods(http.MethodPost)

	r.HandleFunc("/skills/catalog", s.skillCatalog).Methods(http.MethodGet)
	r.HandleFunc("/channels/telegram/pair", s.telegramPair).Methods(http.MethodPost)

	return root
}

type controlAction int

const (
	startAction controlAction = iota
	stopAction
	endAction
	restartAction
)

func (s *Server) control(action controlAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		var result supervisor.ControlResult
		var err error
		switch action {
		case startAction:
			result, err = s.manager.Start(ctx)
		case stopAction:
			result, err = s.manager.Stop(ctx)
		case endAction:
			result, err = s.manager.End(ctx)
		case restartAction:
			result, err = s.manager.Restart(ctx)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) checkEnv(w http.ResponseWriter, r *http.Request) {
	port := portQuery(r, 28789)
	writeJSON(w, http.StatusOK, s.manager.CheckEnv(r.Context(), port))
}

func (s *Server) installEnv(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, s.manager.InstallEnv(ctx, portQuery(r, 28789)))
}

func (s *Server) releasePort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Port uint16 `json:"port"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	message, err := s.manager.ReleasePort(r.Context(), req.Port)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, message)
}

func (s *Server) installLock(w http.ResponseWriter, _ *http.Request) {
	info, err := s.manager.InstallLockInfo()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) install(w http.ResponseWriter, r *http.Request) {
	var cfg gateway.ConfigInput
	if !decodeBody(w, r, &cfg) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	result, err := s.manager.Install(ctx, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) uninstall(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	result, err := s.manager.Uninstall(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	result, err := s.manager.Upgrade(ctx)
	if err != nil {
		// A rolled-back upgrade still carries useful detail for the UI.
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) configure(w http.ResponseWriter, r *http.Request) {
	var cfg gateway.ConfigInput
	if !decodeBody(w, r, &cfg) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	result, err := s.manager.Configure(ctx, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) currentConfig(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.manager.CurrentConfig()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) reloadConfig(w http.ResponseWriter, _ *http.Request) {
	message, err := s.manager.ReloadConfig()
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, message)
}

func (s *Server) updateProviderKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	message, err := s.manager.UpdateProviderAPIKey(r.Context(), req.Provider, req.APIKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, message)
}

func (s *Server) switchModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Primary   string   `json:"primary"`
		Fallbacks []string `json:"fallbacks"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	result, err := s.manager.SwitchModel(ctx, req.Primary, req.Fallbacks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	status, err := s.manager.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	result, err := s.manager.HealthCheck(r.Context(), host, portQuery(r, 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) createBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prefix string `json:"prefix"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	info, err := s.manager.Backup(req.Prefix)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) listBackups(w http.ResponseWriter, _ *http.Request) {
	infos, err := s.manager.ListBackups()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	result, err := s.manager.Rollback(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) securityScan(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.SecurityCheck(r.Context()))
}

func (s *Server) listLogs(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.manager.ListLogs()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) logsDir(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"path": s.manager.LogsDirPath()})
}

func (s *Server) readLog(w http.ResponseWriter, r *http.Request) {
	lines := 0
	if raw := r.URL.Query().Get("lines"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			lines = parsed
		}
	}
	content, err := s.manager.ReadLog(mux.Vars(r)["name"], lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lines": content})
}

func (s *Server) exportLog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Destination string `json:"destination"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	dest, err := s.manager.ExportLog(mux.Vars(r)["name"], req.Destination)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": dest})
}

func (s *Server) clearCache(w http.ResponseWriter, _ *http.Request) {
	message, err := s.manager.ClearCache()
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, message)
}

func (s *Server) clearSessions(w http.ResponseWriter, _ *http.Request) {
	message, err := s.manager.ClearSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, message)
}

func (s *Server) skillCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.ListSkillCatalog(r.Context()))
}

func (s *Server) telegramPair(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	message, err := s.manager.SetupTelegramPair(ctx, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, message)
}

func portQuery(r *http.Request, fallback uint16) uint16 {
	raw := r.URL.Query().Get("port")
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseUint(raw, 10, 16)
	if err != nil || parsed == 0 {
		return fallback
	}
	return uint16(parsed)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("encode API response: %v", err)
	}
}

// writeError maps known sentinel errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, installer.ErrAlreadyInstalled),
		errors.Is(err, supervisor.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, backup.ErrNotFound),
		errors.Is(err, configurer.ErrNotConfigured),
		errors.Is(err, supervisor.ErrNotInstalled):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
