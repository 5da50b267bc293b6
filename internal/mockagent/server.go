// Package mockagent serves a scripted AG-UI agent for demos and end-to-end
// tests. It routes each run the way the production graph does: knowledge
// questions go through the kb_chat backend tool, data questions through the
// approval gate and the dashboard tools, everything else gets a direct
// answer.
package mockagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"chatbi/internal/logging"
	"chatbi/internal/types"
)

const (
	DefaultAgent = "sample_agent"
	DefaultAddr  = "127.0.0.1:8123"

	approveTool = "approve_query_parameters"
	showSQLTool = "show_sql"
	kbChatTool  = "kb_chat"

	defaultIndicators = "gmv,orders,aov"
)

type Intent string

const (
	IntentGeneral Intent = "general_agent"
	IntentQuery   Intent = "data_query"
	IntentDirect  Intent = "direct_answer"
)

type Option func(*Server)

func WithAgentName(name string) Option {
	return func(s *Server) {
		if strings.TrimSpace(name) != "" {
			s.agent = strings.TrimSpace(name)
		}
	}
}

// WithDelay paces streamed events so a terminal client can show progress.
func WithDelay(delay time.Duration) Option {
	return func(s *Server) {
		if delay >= 0 {
			s.delay = delay
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Server) {
		if newID != nil {
			s.newID = newID
		}
	}
}

type Server struct {
	agent  string
	delay  time.Duration
	logger logging.Logger
	newID  func() string
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		agent:  DefaultAgent,
		delay:  25 * time.Millisecond,
		logger: logging.Nop(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /agents/{agent}/health", s.health)
	mux.HandleFunc("POST /agents/{agent}", s.run)
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	if strings.TrimSpace(addr) == "" {
		addr = DefaultAddr
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, listener)
}

func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("mock agent listening", logging.F("addr", listener.Addr().String()), logging.F("agent", s.agent))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("agent") != s.agent {
		writeDetail(w, http.StatusNotFound, "agent not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"agent":  map[string]string{"name": s.agent},
	})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("agent") != s.agent {
		writeDetail(w, http.StatusNotFound, "agent not found")
		return
	}
	var input types.RunAgentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid run input: "+err.Error())
		return
	}
	if strings.TrimSpace(input.ThreadID) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "threadId is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	st := &stream{ctx: r.Context(), w: w, flusher: flusher, delay: s.delay, newID: s.newID}
	logger := s.logger.With(logging.F("thread_id", input.ThreadID), logging.F("run_id", input.RunID))
	st.send(types.Event{Type: types.EventRunStarted, ThreadID: input.ThreadID, RunID: input.RunID})
	s.script(st, input, logger)
	st.send(types.Event{Type: types.EventRunFinished, ThreadID: input.ThreadID, RunID: input.RunID})
	if st.err != nil {
		logger.Debug("run stream aborted", logging.Err(st.err))
	}
}

func (s *Server) script(st *stream, input types.RunAgentInput, logger logging.Logger) {
	last, ok := lastMessage(input.Messages)
	if !ok {
		st.text("Hello! I'm ready to help you analyze data.")
		return
	}
	if last.Role == types.RoleTool {
		switch toolNameFor(input.Messages, last.ToolCallID) {
		case approveTool:
			logger.Info("approval received", logging.F("tool_call_id", last.ToolCallID))
			s.runQuery(st, last.Content)
		case showSQLTool:
			s.publishResults(st, input.Messages)
		default:
			st.text("Done.")
		}
		return
	}
	question := strings.TrimSpace(last.Content)
	intent := Classify(question)
	logger.Info("intent classified", logging.F("intent", string(intent)))
	st.step(string(intent), func() {
		switch intent {
		case IntentQuery:
			s.askApproval(st, question)
		case IntentGeneral:
			s.answerFromKB(st, question)
		default:
			st.text(directAnswer(question))
		}
	})
}

// Classify picks the agent route for a user question.
func Classify(question string) Intent {
	lower := strings.ToLower(question)
	for _, word := range []string{"query", "sales", "gmv", "orders", "revenue", "trend", "indicator", "metric", "数据", "指标", "销售"} {
		if strings.Contains(lower, word) {
			return IntentQuery
		}
	}
	for _, word := range []string{"what", "how", "why", "policy", "document", "explain", "?", "？"} {
		if strings.Contains(lower, word) {
			return IntentGeneral
		}
	}
	return IntentDirect
}

func directAnswer(question string) string {
	if question == "" {
		return "Hello! I'm ready to help you analyze data."
	}
	return fmt.Sprintf("You said: %q. Ask me about a metric such as GMV or orders to build a dashboard.", question)
}

func (s *Server) askApproval(st *stream, question string) {
	indicators := matchIndicators(question)
	args, _ := json.Marshal(map[string]any{
		"indicators":           indicators,
		"candidate_indicators": strings.Split(defaultIndicators, ","),
		"time_list":            []string{"2024-01-01", "2024-03-31"},
		"row_privilege":        "all",
	})
	st.text("Please confirm the query parameters.")
	st.toolCall(approveTool, string(args))
}

func matchIndicators(question string) []string {
	lower := strings.ToLower(question)
	var out []string
	for _, name := range strings.Split(defaultIndicators, ",") {
		if strings.Contains(lower, name) {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		out = []string{"gmv"}
	}
	return out
}

func (s *Server) runQuery(st *stream, approval string) {
	parsed := gjson.Parse(approval)
	var indicators []string
	for _, item := range parsed.Get("indicators").Array() {
		if name := strings.TrimSpace(item.String()); name != "" {
			indicators = append(indicators, name)
		}
	}
	if len(indicators) == 0 {
		st.text("No indicators were approved, so there is nothing to query.")
		return
	}
	start := parsed.Get("start_time").String()
	end := parsed.Get("end_time").String()
	sql := fmt.Sprintf("SELECT month, %s FROM sales_daily", strings.Join(indicators, ", "))
	if start != "" && end != "" {
		sql += fmt.Sprintf(" WHERE dt BETWEEN '%s' AND '%s'", start, end)
	}
	sql += " GROUP BY month ORDER BY month"
	args, _ := json.Marshal(map[string]string{"sql": sql, "title": "Query for " + strings.Join(indicators, ", ")})
	st.toolCall(showSQLTool, string(args))
}

func (s *Server) publishResults(st *stream, messages []types.Message) {
	indicator := "gmv"
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != types.RoleTool {
			continue
		}
		if first := gjson.Get(messages[i].Content, "indicators.0"); first.Exists() {
			indicator = first.String()
			break
		}
	}
	rows := []map[string]any{
		{"month": "2024-01", indicator: 1200},
		{"month": "2024-02", indicator: 1350},
		{"month": "2024-03", indicator: 1580},
	}
	widgets := []types.DashboardWidget{
		{
			ID:    st.newID(),
			Type:  types.WidgetKPI,
			Title: strings.ToUpper(indicator),
			Data:  mustRaw(map[string]any{"value": "4,130", "trend": 12.5, "trendLabel": "vs last quarter"}),
		},
		{
			ID:     st.newID(),
			Type:   types.WidgetChart,
			Title:  strings.ToUpper(indicator) + " by month",
			Data:   mustRaw(rows),
			Config: mustRaw(map[string]any{"chartType": "bar", "xKey": "month", "yKey": indicator, "description": "Monthly totals"}),
		},
		{
			ID:    st.newID(),
			Type:  types.WidgetTable,
			Title: "Monthly detail",
			Data:  mustRaw(rows),
		},
	}
	ops := make([]map[string]any, 0, len(widgets))
	for _, widget := range widgets {
		ops = append(ops, map[string]any{"op": "add", "path": "/widgets/-", "value": widget})
	}
	st.send(types.Event{Type: types.EventStateDelta, Delta: mustRaw(ops)})
	st.text(fmt.Sprintf("I added %d widgets for **%s** to the dashboard.", len(widgets), indicator))
}

func (s *Server) answerFromKB(st *stream, question string) {
	callID := st.newID()
	args := mustRaw(map[string]string{"question": question})
	st.send(types.Event{Type: types.EventStateDelta, Delta: mustRaw([]map[string]any{{
		"op":    "add",
		"path":  "/active_tool",
		"value": types.ActiveTool{ID: callID, Name: kbChatTool, Args: args, Status: types.ActiveToolRunning},
	}})})
	st.toolCallWithID(callID, kbChatTool, string(args))

	answer := "Refunds are accepted within 30 days of purchase."
	result := mustRaw(map[string]any{
		"answer":  answer,
		"sources": []map[string]string{{"file_name": "refund-policy.md"}},
	})
	st.send(types.Event{Type: types.EventToolCallResult, MessageID: st.newID(), ToolCallID: callID, Content: string(result)})
	st.send(types.Event{Type: types.EventStateDelta, Delta: mustRaw([]map[string]any{
		{"op": "replace", "path": "/active_tool/status", "value": types.ActiveToolDone},
		{"op": "add", "path": "/active_tool/result", "value": result},
	})})
	st.text(answer + "\n\n_Source: refund-policy.md_")
}

func lastMessage(messages []types.Message) (types.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser || messages[i].Role == types.RoleTool {
			return messages[i], true
		}
	}
	return types.Message{}, false
}

func toolNameFor(messages []types.Message, callID string) string {
	for i := len(messages) - 1; i >= 0; i-- {
		for _, call := range messages[i].ToolCalls {
			if call.ID == callID {
				return call.Function.Name
			}
		}
	}
	return ""
}

func mustRaw(value any) json.RawMessage {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return raw
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
