// Package api provides HTTP handlers for ReplyDesk endpoints.
package api

import (
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyDesk/internal/models"
)

const logsPageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>ReplyDesk exchange log</title>
<style>
body { font-family: sans-serif; margin: 1.5rem; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; vertical-align: top; font-size: 13px; }
th { background: #f0f0f0; }
tr.handoff td { background: #fff3e0; }
td.id { font-family: monospace; font-size: 11px; }
</style>
</head>
<body>
<h1>ReplyDesk exchange log</h1>
<p>{{.Count}} most recent exchange(s), newest first.</p>
<table>
<tr><th>ID</th><th>Time</th><th>Channel</th><th>Sender</th><th>Inbound</th><th>Reply</th><th>Tags</th><th>Handoff</th><th>Rule</th></tr>
{{range .Rows}}<tr{{if .Handoff}} class="handoff"{{end}}>
<td class="id">{{.ID}}</td><td>{{.Time}}</td><td>{{.Channel}}</td><td>{{.Sender}}</td><td>{{.Inbound}}</td><td>{{.Reply}}</td><td>{{.Tags}}</td><td>{{if .Handoff}}yes{{end}}</td><td>{{.Rule}}</td>
</tr>
{{end}}</table>
</body>
</html>
`

// Template execution escapes every cell, so customer-controlled text
// cannot inject markup into the viewer.
var logsPage = template.Must(template.New("logs").Parse(logsPageTemplate))

// logRow is one rendered exchange in the log viewer.
type logRow struct {
	ID      string
	Time    string
	Channel string
	Sender  string
	Inbound string
	Reply   string
	Tags    string
	Handoff bool
	Rule    string
}

func joinTags(tags []models.Tag) string {
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = string(tag)
	}
	return strings.Join(parts, ", ")
}

// logsHandler renders the exchange log as an HTML table (GET /logs).
// The endpoint does not exist unless DASH_TOKEN is configured, and
// requires the matching token query parameter.
func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.logsHandler: processing logs request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.dashToken == "" {
		http.NotFound(w, r)
		return
	}
	if r.URL.Query().Get("token") != s.dashToken {
		slog.Warn("Server.logsHandler: rejected request with bad token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	exchanges, err := s.st.RecentExchanges(models.MaxRecentExchangesLimit)
	if err != nil {
		slog.Error("Server.logsHandler: failed to fetch exchanges", "error", err)
		http.Error(w, "Failed to fetch exchanges", http.StatusInternalServerError)
		return
	}

	rows := make([]logRow, 0, len(exchanges))
	for _, ex := range exchanges {
		rows = append(rows, logRow{
			ID:      ex.ID,
			Time:    ex.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			Channel: string(ex.Channel),
			Sender:  ex.Sender,
			Inbound: ex.InboundText,
			Reply:   ex.ReplyText,
			Tags:    joinTags(ex.Tags),
			Handoff: ex.NeedsHandoff,
			Rule:    ex.Rule,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := logsPage.Execute(w, map[string]interface{}{"Rows": rows, "Count": len(rows)}); err != nil {
		slog.Error("Server.logsHandler: failed to render page", "error", err)
	}
}

// exchangesHandler returns recent exchanges as JSON (GET
// /api/exchanges), behind the same token gate as the HTML viewer.
func (s *Server) exchangesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.exchangesHandler: processing exchanges request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	if s.dashToken == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}
	if r.URL.Query().Get("token") != s.dashToken {
		slog.Warn("Server.exchangesHandler: rejected request with bad token")
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
		return
	}

	limit := DefaultExchangeListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit parameter"))
			return
		}
		limit = n
	}
	if limit > models.MaxRecentExchangesLimit {
		limit = models.MaxRecentExchangesLimit
	}

	exchanges, err := s.st.RecentExchanges(limit)
	if err != nil {
		slog.Error("Server.exchangesHandler: failed to fetch exchanges", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch exchanges"))
		return
	}
	slog.Debug("Server.exchangesHandler: exchanges fetched", "count", len(exchanges))
	writeJSONResponse(w, http.StatusOK, models.Success(exchanges))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	// Reading one exchange exercises the same path every reply depends on.
	if _, err := s.st.RecentExchanges(1); err != nil {
		slog.Warn("Health check: exchange log unavailable", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to read exchange log"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthData)
}

// rootHandler serves the service banner (GET /) and a JSON 404 for
// unknown paths.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ReplyDesk automated reply service", map[string]string{
		"webhook": "/webhook/inbound",
		"health":  "/health",
	}))
}
