package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/afroash/temper-node/internal/node"
	"github.com/afroash/temper-node/internal/provisioning"
	"github.com/afroash/temper-node/internal/storage"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500

	// longest timerDelay, in minutes, that fits a time.Duration
	maxTimerDelay = float64(math.MaxInt64 / int64(time.Minute))
)

type portalPage struct {
	Submitted bool
	Ready     bool
	State     string
}

type monitorPage struct {
	NodeID  string
	Version string
	SSID    string
	IP      string
}

// infoResponse keeps the field names the settings panel script reads.
type infoResponse struct {
	SSID       string `json:"SSID"`
	IP         string `json:"IP"`
	UpTime     string `json:"UpTime"`
	MinTemp    int    `json:"MinTemp"`
	MaxTemp    int    `json:"MaxTemp"`
	TimerDelay string `json:"timerDelay"`
}

type healthResponse struct {
	Status      string                         `json:"status"`
	Version     string                         `json:"version"`
	State       string                         `json:"state"`
	Node        node.Status                    `json:"node"`
	Subscribers int                            `json:"subscribers"`
	Journal     *storage.JournalStats          `json:"journal,omitempty"`
	Retention   *storage.RetentionCleanerStats `json:"retention,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	state := s.ctrl.State()
	if state != provisioning.StateConnected {
		s.render(w, "portal.html", portalPage{State: state.String()})
		return
	}

	info := s.ctrl.Info()
	s.render(w, "monitor.html", monitorPage{
		NodeID:  info.NodeID,
		Version: info.Version,
		SSID:    info.SSID,
		IP:      info.IP,
	})
}

// handleFallback is the captive redirect: any unknown path gets the portal
// page while the node is not yet online.
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	state := s.ctrl.State()
	if state == provisioning.StateConnected {
		http.NotFound(w, r)
		return
	}
	s.render(w, "portal.html", portalPage{State: state.String()})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ready := s.ctrl.Submit(provisioning.SubmissionFromValues(r.URL.Query()))

	s.logger.Info().Bool("ready", ready).Msg("Portal submission")
	s.render(w, "portal.html", portalPage{
		Submitted: true,
		Ready:     ready,
		State:     s.ctrl.State().String(),
	})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.ctrl.Snapshot())
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := s.ctrl.Info()

	s.writeJSON(w, []infoResponse{{
		SSID:       info.SSID,
		IP:         info.IP,
		UpTime:     strconv.FormatInt(int64(info.Uptime/time.Second), 10),
		MinTemp:    int(info.Thresholds.MinC),
		MaxTemp:    int(info.Thresholds.MaxC),
		TimerDelay: strconv.FormatInt(info.Thresholds.NotifyIntervalMinutes(), 10),
	}})
}

// handleUpdateSettings applies whichever parameters parse and ignores the rest.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var update node.SettingsUpdate

	if v, ok := parseFinite(q.Get("minTemperature")); ok {
		update.MinC = &v
	}
	if v, ok := parseFinite(q.Get("maxTemperature")); ok {
		update.MaxC = &v
	}
	if v, ok := parseFinite(q.Get("timerDelay")); ok && v >= 0 && v <= maxTimerDelay {
		d := time.Duration(v * float64(time.Minute))
		update.NotifyInterval = &d
	}

	th := s.ctrl.UpdateSettings(update)
	if s.hub != nil {
		s.hub.BroadcastSettings(th)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

// parseFinite rejects NaN and the infinities ParseFloat accepts.
func parseFinite(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if parsed, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && parsed > 0 {
		limit = parsed
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	if s.events == nil {
		s.writeJSON(w, []struct{}{})
		return
	}

	events, err := s.events.Recent(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read journal")
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	if events == nil {
		s.writeJSON(w, []struct{}{})
		return
	}
	s.writeJSON(w, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: s.config.Version,
		State:   s.ctrl.State().String(),
		Node:    s.ctrl.Status(),
	}
	if s.hub != nil {
		resp.Subscribers = s.hub.Count()
	}
	if j, ok := s.events.(interface {
		Stats() (*storage.JournalStats, error)
	}); ok {
		stats, err := j.Stats()
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to read journal stats")
		} else {
			resp.Journal = stats
		}
	}
	if s.retention != nil {
		stats := s.retention.Stats()
		resp.Retention = &stats
	}
	s.writeJSON(w, resp)
}
