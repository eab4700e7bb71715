package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/statquery/statquery/internal/config"
	"github.com/statquery/statquery/internal/errors"
	"github.com/statquery/statquery/internal/logging"
	"github.com/statquery/statquery/internal/prompt"
	"github.com/statquery/statquery/internal/query"
	"github.com/statquery/statquery/internal/storage"
)

// QueryService is the engine surface the server depends on.
type QueryService interface {
	Answer(ctx context.Context, history prompt.History) (*query.Response, error)
	GenerateSQL(ctx context.Context, history prompt.History) (*query.Response, error)
	Schema(ctx context.Context) (string, error)
	CheckQuery(ctx context.Context, sqlText string) error
	ExecuteQuery(ctx context.Context, sqlText string) (*storage.Result, error)
}

// Tool names exposed over the HTTP surface.
const (
	toolQueryDatabase = "query_database"
	toolGenerateSQL   = "generate_sql"
	toolGetSchema     = "get_schema"
	toolCheckQuery    = "check_query"
	toolExecuteQuery  = "execute_query"
)

// toolDescriptor describes one tool for discovery.
type toolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var toolDescriptors = []toolDescriptor{
	{
		Name:        toolQueryDatabase,
		Description: "Answer a natural language question about the football database. Arguments: history (list of {role, content} turns ending with a user turn) or question (shorthand for a single user turn).",
	},
	{
		Name:        toolGenerateSQL,
		Description: "Generate and validate a SQL statement for a question without executing it. Arguments as for query_database.",
	},
	{
		Name:        toolGetSchema,
		Description: "Return the database schema as a human-readable description. No arguments.",
	},
	{
		Name:        toolCheckQuery,
		Description: "Validate a SQL statement without executing it. Arguments: sql.",
	},
	{
		Name:        toolExecuteQuery,
		Description: "Validate and execute a SELECT statement. Arguments: sql.",
	},
}

// Server exposes the query workflow as HTTP tool endpoints plus health and
// metrics.
type Server struct {
	service QueryService
	logger  *logging.Logger
	metrics *metrics
	httpSrv *http.Server
}

// NewServer wires the HTTP server. Start must be called to begin serving.
func NewServer(cfg config.ServerConfig, service QueryService, logger *logging.Logger) *Server {
	s := &Server{
		service: service,
		logger:  logger,
		metrics: newMetrics(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", s.handleListTools)
	mux.HandleFunc("POST /tools/call", s.handleCallTool)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.handler())

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpSrv.Addr).Info("starting tool server")

	if err := s.httpSrv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, errors.ErrTypeInternal, "server stopped unexpectedly")
	}

	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// callRequest is the envelope for POST /tools/call.
type callRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

type callArguments struct {
	History  prompt.History `json:"history"`
	Question string         `json:"question"`
	SQL      string         `json:"sql"`
}

// history resolves the conversation: an explicit history wins, a bare
// question becomes a single user turn.
func (a callArguments) history() prompt.History {
	if len(a.History) == 0 && a.Question != "" {
		return prompt.History{{Role: prompt.RoleUser, Content: a.Question}}
	}

	return a.History
}

// errorPayload is the structured error surface. Every failure returns this
// shape so clients can branch on the type.
type errorPayload struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type        string   `json:"type"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": toolDescriptors})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.service.Schema(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "unknown", errors.Wrap(err, errors.ErrTypeInput, "malformed request body"))
		return
	}

	var args callArguments
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			s.writeError(w, req.Tool, errors.Wrap(err, errors.ErrTypeInput, "malformed tool arguments"))
			return
		}
	}

	start := time.Now()
	s.metrics.requestsTotal.WithLabelValues(req.Tool).Inc()

	result, err := s.dispatch(r.Context(), req.Tool, args)

	s.metrics.requestDuration.WithLabelValues(req.Tool).Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.failuresTotal.WithLabelValues(req.Tool, string(errors.GetType(err))).Inc()
		s.logger.WithFields(map[string]interface{}{
			"tool":       req.Tool,
			"error_type": string(errors.GetType(err)),
		}).Error("tool call failed", err)
		s.writeError(w, req.Tool, err)

		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) dispatch(ctx context.Context, tool string, args callArguments) (any, error) {
	switch tool {
	case toolQueryDatabase:
		resp, err := s.service.Answer(ctx, args.history())
		if err != nil {
			return nil, err
		}

		s.metrics.attempts.Observe(float64(resp.Attempts))

		return resp, nil

	case toolGenerateSQL:
		resp, err := s.service.GenerateSQL(ctx, args.history())
		if err != nil {
			return nil, err
		}

		s.metrics.attempts.Observe(float64(resp.Attempts))

		return map[string]any{"sql": resp.SQL, "attempts": resp.Attempts}, nil

	case toolGetSchema:
		schema, err := s.service.Schema(ctx)
		if err != nil {
			return nil, err
		}

		return map[string]string{"schema": schema}, nil

	case toolCheckQuery:
		if err := s.service.CheckQuery(ctx, args.SQL); err != nil {
			return nil, err
		}

		return map[string]bool{"valid": true}, nil

	case toolExecuteQuery:
		result, err := s.service.ExecuteQuery(ctx, args.SQL)
		if err != nil {
			return nil, err
		}

		return result, nil

	default:
		return nil, errors.Newf(errors.ErrTypeInput, "unknown tool: %s", tool)
	}
}

func (s *Server) writeError(w http.ResponseWriter, _ string, err error) {
	payload := errorPayload{Error: errorBody{
		Type:    string(errors.GetType(err)),
		Message: errors.UserMessage(err),
	}}

	var structErr *errors.Error
	if stderrors.As(err, &structErr) {
		payload.Error.Suggestions = structErr.Suggestions
	}

	s.writeJSON(w, statusFor(errors.GetType(err)), payload)
}

func statusFor(errType errors.ErrorType) int {
	switch errType {
	case errors.ErrTypeInput, errors.ErrTypePolicy:
		return http.StatusBadRequest
	case errors.ErrTypeValidation, errors.ErrTypeUnrecoverable:
		return http.StatusUnprocessableEntity
	case errors.ErrTypeGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn(fmt.Sprintf("failed to write response: %v", err))
	}
}
