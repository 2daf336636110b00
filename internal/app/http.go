package app

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"time"

	"pathpilot/internal/bot"
	"pathpilot/logging"
)

type HTTPHandlerConfig struct {
	Logger  *log.Logger
	Metrics *logging.Metrics
}

// Controller is the run control surface exposed over HTTP.
type Controller interface {
	Start() bool
	Stop() bool
	EmergencyStop()
	Status() bot.Status
}

// NewHTTPHandler serves status and run control for a bot.
func NewHTTPHandler(ctl Controller, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/status", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		writeJSON(w, logger, nethttp.StatusOK, ctl.Status())
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var metrics map[string]uint64
		if cfg.Metrics != nil {
			metrics = cfg.Metrics.Snapshot()
		}
		payload := struct {
			Status     string            `json:"status"`
			ServerTime int64             `json:"serverTime"`
			Bot        bot.Status        `json:"bot"`
			Telemetry  map[string]uint64 `json:"telemetry,omitempty"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Bot:        ctl.Status(),
			Telemetry:  metrics,
		}
		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	command := func(name string, apply func() bool) func(nethttp.ResponseWriter, *nethttp.Request) {
		return func(w nethttp.ResponseWriter, r *nethttp.Request) {
			if r.Method != nethttp.MethodPost {
				httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
				return
			}
			if !apply() {
				httpError(w, "control queue full", nethttp.StatusServiceUnavailable)
				return
			}
			logger.Printf("[control] %s requested by %s", name, r.RemoteAddr)
			writeJSON(w, logger, nethttp.StatusAccepted, struct {
				Status  string `json:"status"`
				Command string `json:"command"`
			}{Status: "accepted", Command: name})
		}
	}

	mux.HandleFunc("/start", command("start", ctl.Start))
	mux.HandleFunc("/stop", command("stop", ctl.Stop))
	mux.HandleFunc("/emergency-stop", command("emergency-stop", func() bool {
		ctl.EmergencyStop()
		return true
	}))

	return mux
}

func writeJSON(w nethttp.ResponseWriter, logger *log.Logger, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("[control] encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
