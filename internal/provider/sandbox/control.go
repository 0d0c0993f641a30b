package sandbox

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const maxOptionsBody = 64 << 10

// Notices accepted by the emit endpoint.
const (
	NoticeUnreadCountChanged    = "unread_count_changed"
	NoticeAuthenticationFailed  = "authentication_failed"
	NoticeFieldValidationFailed = "field_validation_failed"
)

// EmitRequest is the body of POST <prefix>/emit.
type EmitRequest struct {
	Event  string   `json:"event"`
	Count  int      `json:"count,omitempty"`
	Error  string   `json:"error,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// Control serves the sandbox's HTTP control surface.
type Control struct {
	engine *Engine
	logger *zap.Logger
}

// NewControl creates a control surface for engine.
func NewControl(engine *Engine, logger *zap.Logger) *Control {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Control{engine: engine, logger: logger.Named("sandbox.control")}
}

// Mount registers the control endpoints on mux under prefix.
func (c *Control) Mount(mux *http.ServeMux, prefix string) {
	prefix = strings.TrimSuffix(prefix, "/")
	mux.HandleFunc(prefix+"/emit", c.handleEmit)
	mux.HandleFunc(prefix+"/state", c.handleState)
	mux.HandleFunc(prefix+"/options", c.handleOptions)
	c.logger.Info("Sandbox control mounted", zap.String("prefix", prefix))
}

func (c *Control) handleEmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req EmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	var delivered int
	switch req.Event {
	case NoticeUnreadCountChanged:
		delivered = c.engine.SetUnreadCount(req.Count)
	case NoticeAuthenticationFailed:
		delivered = c.engine.FailAuthentication(req.Error)
	case NoticeFieldValidationFailed:
		delivered = c.engine.FailFieldValidation(req.Errors)
	default:
		http.Error(w, "Unknown event "+req.Event, http.StatusBadRequest)
		return
	}

	c.logger.Info("Sandbox event emitted",
		zap.String("event", req.Event),
		zap.Int("observers", delivered))
	writeJSON(w, map[string]interface{}{"ok": true, "observers": delivered})
}

func (c *Control) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, c.engine.State())
}

func (c *Control) handleOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOptionsBody))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	// Fields missing from the body keep their current values. The body is
	// JSON or YAML, with latency as a duration string.
	opts := c.engine.Options()
	if err := yaml.Unmarshal(body, &opts); err != nil {
		http.Error(w, "Invalid options: "+err.Error(), http.StatusBadRequest)
		return
	}
	c.engine.SetOptions(opts)
	c.logger.Info("Sandbox options updated", zap.Duration("latency", opts.Latency))
	writeJSON(w, map[string]interface{}{"ok": true})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
