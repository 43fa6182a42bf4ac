package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/logging"
)

// CardPath is where the agent card is served.
const CardPath = "/.well-known/agent.json"

// Options configures a Server.
type Options struct {
	Logger logging.Logger
	// Gatherer mounts GET /metrics when non-nil.
	Gatherer prometheus.Gatherer
	// MaxTasks bounds the number of tasks kept for tasks/get.
	MaxTasks int
	// StatusMessages includes intermediate status texts in streamed
	// working updates.
	StatusMessages bool
}

// Server exposes a TurnExecutor over HTTP as an A2A agent.
type Server struct {
	card   AgentCard
	turns  core.TurnExecutor
	tasks  *taskTable
	opts   Options
	router chi.Router
}

var _ http.Handler = (*Server)(nil)

// NewServer creates a Server for the given card and turn executor.
func NewServer(card AgentCard, turns core.TurnExecutor, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:         logging.NoOpLogger{},
		MaxTasks:       1024,
		StatusMessages: true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		card:  card,
		turns: turns,
		tasks: newTaskTable(opts.MaxTasks),
		opts:  opts,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)
	r.Use(s.logRequests)

	r.Get(CardPath, s.handleCard)
	r.Post("/", s.handleRPC)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	s.router = r

	return s
}

// Card returns the served agent card.
func (s *Server) Card() AgentCard { return s.card }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.opts.Logger.Debug("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.card)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.opts.Logger.Warn("rpc.parse.error", "error", err)
		writeJSON(w, http.StatusBadRequest, Response{
			JSONRPC: "2.0",
			Error:   &Error{Code: CodeParseError, Message: "Parse error", Data: err.Error()},
		})
		return
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse(req.ID, &Error{Code: CodeInvalidRequest, Message: "Invalid request"}))
		return
	}

	s.opts.Logger.Debug("rpc.request", "method", req.Method)

	switch req.Method {
	case MethodSend:
		params, rpcErr := decodeSendParams(req.Params)
		if rpcErr != nil {
			writeJSON(w, http.StatusOK, errorResponse(req.ID, rpcErr))
			return
		}

		task, rpcErr := s.send(r.Context(), params)
		if rpcErr != nil {
			writeJSON(w, http.StatusOK, errorResponse(req.ID, rpcErr))
			return
		}

		writeJSON(w, http.StatusOK, Response{JSONRPC: "2.0", ID: req.ID, Result: task})
	case MethodSendSubscribe:
		params, rpcErr := decodeSendParams(req.Params)
		if rpcErr != nil {
			writeJSON(w, http.StatusOK, errorResponse(req.ID, rpcErr))
			return
		}

		s.subscribe(w, r, req.ID, params)
	case MethodGet:
		var p TaskIDParams
		if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
			writeJSON(w, http.StatusOK, errorResponse(req.ID, &Error{Code: CodeInvalidParams, Message: "Invalid params"}))
			return
		}

		task, ok := s.tasks.get(p.ID)
		if !ok {
			writeJSON(w, http.StatusOK, errorResponse(req.ID, &Error{Code: CodeTaskNotFound, Message: "Task not found"}))
			return
		}

		writeJSON(w, http.StatusOK, Response{JSONRPC: "2.0", ID: req.ID, Result: task})
	case MethodCancel:
		var p TaskIDParams
		if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
			writeJSON(w, http.StatusOK, errorResponse(req.ID, &Error{Code: CodeInvalidParams, Message: "Invalid params"}))
			return
		}

		task, rpcErr := s.tasks.cancel(p.ID)
		if rpcErr != nil {
			writeJSON(w, http.StatusOK, errorResponse(req.ID, rpcErr))
			return
		}

		s.opts.Logger.Info("task.cancel", "task_id", p.ID)
		writeJSON(w, http.StatusOK, Response{JSONRPC: "2.0", ID: req.ID, Result: task})
	default:
		writeJSON(w, http.StatusOK, errorResponse(req.ID, &Error{
			Code:    CodeMethodNotFound,
			Message: "Method not found",
			Data:    req.Method,
		}))
	}
}

func decodeSendParams(raw json.RawMessage) (TaskSendParams, *Error) {
	var p TaskSendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, &Error{Code: CodeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}

	if p.Message.Text() == "" {
		return p, &Error{Code: CodeInvalidParams, Message: "Invalid params", Data: "message must contain a text part"}
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}

	return p, nil
}

func (s *Server) send(ctx context.Context, p TaskSendParams) (Task, *Error) {
	ctx, done, rpcErr := s.tasks.start(ctx, p.ID, p.SessionID)
	if rpcErr != nil {
		return Task{}, rpcErr
	}
	defer done()

	var terminal core.TurnUpdate
	for u := range s.turns.Stream(ctx, p.Message.Text(), p.SessionID) {
		if u.Complete {
			terminal = u
		}
	}

	return s.finish(ctx, p.ID, terminal), nil
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request, id json.RawMessage, p TaskSendParams) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusOK, errorResponse(id, &Error{Code: CodeInternalError, Message: "Streaming not supported"}))
		return
	}

	ctx, done, rpcErr := s.tasks.start(r.Context(), p.ID, p.SessionID)
	if rpcErr != nil {
		writeJSON(w, http.StatusOK, errorResponse(id, rpcErr))
		return
	}
	defer done()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(result any) bool {
		data, err := json.Marshal(Response{JSONRPC: "2.0", ID: id, Result: result})
		if err != nil {
			s.opts.Logger.Error("sse.encode.error", "task_id", p.ID, "error", err)
			return false
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			s.opts.Logger.Debug("sse.client.gone", "task_id", p.ID, "error", err)
			return false
		}

		flusher.Flush()

		return true
	}

	for u := range s.turns.Stream(ctx, p.Message.Text(), p.SessionID) {
		if !u.Complete {
			status := TaskStatus{State: StateWorking, Timestamp: time.Now().UTC()}
			if s.opts.StatusMessages && u.Status != "" {
				status.Message = agentMessage(TextPart(u.Status))
			}

			s.tasks.setStatus(p.ID, status)

			if !send(TaskStatusUpdateEvent{ID: p.ID, Status: status}) {
				return
			}

			continue
		}

		task := s.finish(ctx, p.ID, u)

		for _, a := range task.Artifacts {
			if !send(TaskArtifactUpdateEvent{ID: p.ID, Artifact: a}) {
				return
			}
		}

		send(TaskStatusUpdateEvent{ID: p.ID, Status: task.Status, Final: true})

		return
	}
}

// finish maps the terminal update onto the task and stores the result.
func (s *Server) finish(ctx context.Context, taskID string, u core.TurnUpdate) Task {
	status := TaskStatus{State: StateCompleted, Timestamp: time.Now().UTC()}

	var artifacts []Artifact

	switch {
	case u.Err != nil && errors.Is(context.Cause(ctx), errTaskCanceled):
		status.State = StateCanceled
	case u.Err != nil:
		status.State = StateFailed
		status.Message = agentMessage(TextPart(u.Err.Error()))

		s.opts.Logger.Warn("task.failed", "task_id", taskID, "error", u.Err)
	default:
		artifacts = []Artifact{{Parts: []Part{contentPart(u.Content)}}}
	}

	return s.tasks.complete(taskID, status, artifacts)
}

func contentPart(content any) Part {
	switch c := content.(type) {
	case map[string]any:
		return DataPart(c)
	case string:
		return TextPart(c)
	case nil:
		return TextPart("")
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return TextPart(fmt.Sprint(c))
		}
		return TextPart(string(data))
	}
}

func agentMessage(parts ...Part) *Message {
	return &Message{Role: "agent", Parts: parts}
}

func errorResponse(id json.RawMessage, err *Error) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: err}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves h on addr until ctx is canceled, then shuts the
// server down gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("server.listen", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("server.shutdown", "addr", addr)

		return srv.Shutdown(shutdownCtx)
	}
}
