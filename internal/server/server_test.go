package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statquery/statquery/internal/config"
	"github.com/statquery/statquery/internal/errors"
	"github.com/statquery/statquery/internal/logging"
	"github.com/statquery/statquery/internal/prompt"
	"github.com/statquery/statquery/internal/query"
	"github.com/statquery/statquery/internal/storage"
)

// stubService scripts the engine surface for handler tests.
type stubService struct {
	answer     *query.Response
	answerErr  error
	schema     string
	schemaErr  error
	checkErr   error
	execResult *storage.Result
	execErr    error

	lastHistory prompt.History
	lastSQL     string
}

func (s *stubService) Answer(_ context.Context, history prompt.History) (*query.Response, error) {
	s.lastHistory = history

	if err := history.Validate(); err != nil {
		return nil, err
	}

	return s.answer, s.answerErr
}

func (s *stubService) GenerateSQL(_ context.Context, history prompt.History) (*query.Response, error) {
	s.lastHistory = history

	if err := history.Validate(); err != nil {
		return nil, err
	}

	return s.answer, s.answerErr
}

func (s *stubService) Schema(_ context.Context) (string, error) {
	return s.schema, s.schemaErr
}

func (s *stubService) CheckQuery(_ context.Context, sqlText string) error {
	s.lastSQL = sqlText
	return s.checkErr
}

func (s *stubService) ExecuteQuery(_ context.Context, sqlText string) (*storage.Result, error) {
	s.lastSQL = sqlText
	return s.execResult, s.execErr
}

func newTestServer(t *testing.T, service QueryService) *Server {
	t.Helper()

	logger, err := logging.NewLogger(config.LoggingConfig{
		Level: "error", Format: "text", Output: "stderr",
	})
	require.NoError(t, err)

	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, service, logger)
}

func callTool(t *testing.T, srv *Server, tool string, args any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(map[string]any{"tool": tool, "arguments": args})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tools/call", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	return rec
}

func TestListTools(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Tools []toolDescriptor `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))

	names := make([]string, 0, len(payload.Tools))
	for _, tool := range payload.Tools {
		names = append(names, tool.Name)
	}

	assert.ElementsMatch(t,
		[]string{"query_database", "generate_sql", "get_schema", "check_query", "execute_query"},
		names)
}

func TestQueryDatabaseTool(t *testing.T) {
	service := &stubService{answer: &query.Response{
		SQL:      "SELECT COUNT(*) FROM matches",
		Attempts: 1,
		Result: &storage.Result{
			Columns:  []string{"COUNT(*)"},
			Rows:     []map[string]any{{"COUNT(*)": float64(42)}},
			RowCount: 1,
		},
	}}
	srv := newTestServer(t, service)

	rec := callTool(t, srv, "query_database", map[string]any{
		"history": []map[string]string{{"role": "user", "content": "how many matches?"}},
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp query.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SELECT COUNT(*) FROM matches", resp.SQL)
	assert.Equal(t, 1, resp.Result.RowCount)
}

func TestQueryDatabaseQuestionShorthand(t *testing.T) {
	service := &stubService{answer: &query.Response{SQL: "SELECT 1", Attempts: 1,
		Result: &storage.Result{Columns: []string{"1"}, Rows: []map[string]any{}, RowCount: 0}}}
	srv := newTestServer(t, service)

	rec := callTool(t, srv, "query_database", map[string]any{"question": "how many matches?"})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, service.lastHistory, 1)
	assert.Equal(t, prompt.RoleUser, service.lastHistory[0].Role)
	assert.Equal(t, "how many matches?", service.lastHistory[0].Content)
}

func TestGenerateSQLTool(t *testing.T) {
	service := &stubService{answer: &query.Response{
		SQL:      "SELECT COUNT(*) FROM matches",
		Attempts: 2,
	}}
	srv := newTestServer(t, service)

	rec := callTool(t, srv, "generate_sql", map[string]any{"question": "how many matches?"})

	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		SQL      string `json:"sql"`
		Attempts int    `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "SELECT COUNT(*) FROM matches", payload.SQL)
	assert.Equal(t, 2, payload.Attempts)

	// No execution happens for this tool, so no rows appear in the response.
	assert.NotContains(t, rec.Body.String(), "rows")
}

func TestErrorPayloadShape(t *testing.T) {
	service := &stubService{
		answerErr: errors.New(errors.ErrTypeUnrecoverable, "no valid query after 2 attempts"),
	}
	srv := newTestServer(t, service)

	rec := callTool(t, srv, "query_database", map[string]any{"question": "impossible"})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var payload errorPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "unrecoverable_query", payload.Error.Type)
	assert.Equal(t, "no valid query after 2 attempts", payload.Error.Message)
}

func TestEmptyHistoryIsBadRequest(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	rec := callTool(t, srv, "query_database", map[string]any{})

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var payload errorPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "input", payload.Error.Type)
}

func TestCheckQueryTool(t *testing.T) {
	service := &stubService{}
	srv := newTestServer(t, service)

	rec := callTool(t, srv, "check_query", map[string]any{"sql": "SELECT 1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SELECT 1", service.lastSQL)
	assert.JSONEq(t, `{"valid": true}`, rec.Body.String())
}

func TestCheckQueryPolicyViolation(t *testing.T) {
	service := &stubService{
		checkErr: errors.New(errors.ErrTypePolicy, "only SELECT statements are allowed").
			WithSuggestion("Rephrase the question as a read-only lookup"),
	}
	srv := newTestServer(t, service)

	rec := callTool(t, srv, "check_query", map[string]any{"sql": "DROP TABLE matches"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var payload errorPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "policy_violation", payload.Error.Type)
	assert.NotEmpty(t, payload.Error.Suggestions)
}

func TestExecuteQueryTool(t *testing.T) {
	service := &stubService{execResult: &storage.Result{
		Columns:  []string{"matchId"},
		Rows:     []map[string]any{{"matchId": float64(1)}},
		RowCount: 1,
	}}
	srv := newTestServer(t, service)

	rec := callTool(t, srv, "execute_query", map[string]any{"sql": "SELECT matchId FROM matches"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result storage.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.RowCount)
}

func TestGetSchemaTool(t *testing.T) {
	service := &stubService{schema: "Table 'matches':\n  - matchId: INTEGER (Primary Key)\n"}
	srv := newTestServer(t, service)

	rec := callTool(t, srv, "get_schema", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Table 'matches'")
}

func TestUnknownTool(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	rec := callTool(t, srv, "drop_database", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown tool")
}

func TestMalformedBody(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/tools/call", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &stubService{schema: "Table 'matches':\n"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestHealthzUnhealthy(t *testing.T) {
	srv := newTestServer(t, &stubService{
		schemaErr: errors.New(errors.ErrTypeDatabase, "database gone"),
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	service := &stubService{answer: &query.Response{SQL: "SELECT 1", Attempts: 2,
		Result: &storage.Result{Columns: []string{"1"}, Rows: []map[string]any{}, RowCount: 0}}}
	srv := newTestServer(t, service)

	callTool(t, srv, "query_database", map[string]any{"question": "q"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "statquery_tool_requests_total")
}
