package testutil

import (
	"context"
	"sync"

	"github.com/statquery/statquery/internal/examples"
	"github.com/statquery/statquery/internal/storage"
)

// MockGenerator implements llm.Service for testing. Responses are consumed in
// order; the last response repeats when more calls arrive than were scripted.
type MockGenerator struct {
	mu sync.Mutex

	responses []string
	err       error
	calls     int
	prompts   []string
}

// GeneratorOption is a functional option for configuring MockGenerator.
type GeneratorOption func(*MockGenerator)

// WithResponses scripts the sequence of completions the mock returns.
func WithResponses(responses ...string) GeneratorOption {
	return func(m *MockGenerator) {
		m.responses = responses
	}
}

// WithGenerateError makes every Generate call fail with err.
func WithGenerateError(err error) GeneratorOption {
	return func(m *MockGenerator) {
		m.err = err
	}
}

// NewMockGenerator creates a mock LLM service with the given options.
func NewMockGenerator(opts ...GeneratorOption) *MockGenerator {
	mock := &MockGenerator{}

	for _, opt := range opts {
		opt(mock)
	}

	return mock
}

func (m *MockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.prompts = append(m.prompts, prompt)

	if m.err != nil {
		return "", m.err
	}

	if len(m.responses) == 0 {
		return "", nil
	}

	idx := m.calls - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}

	return m.responses[idx], nil
}

// Calls returns how many times Generate was invoked.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// Prompts returns the prompts received so far, in call order.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.prompts...)
}

// MockStore implements storage.Store for testing with per-statement error
// injection for both the EXPLAIN and execution paths.
type MockStore struct {
	mu sync.RWMutex

	schema        string
	dialect       string
	explainErrors map[string]error
	executeErrors map[string]error
	results       map[string]*storage.Result
	callCounts    map[string]int
}

// StoreOption is a functional option for configuring MockStore.
type StoreOption func(*MockStore)

// WithSchema sets the schema description the mock returns.
func WithSchema(schema string) StoreOption {
	return func(m *MockStore) {
		m.schema = schema
	}
}

// WithDialect sets the dialect name the mock reports.
func WithDialect(dialect string) StoreOption {
	return func(m *MockStore) {
		m.dialect = dialect
	}
}

// WithExplainError makes Explain fail for a specific statement.
func WithExplainError(sqlText string, err error) StoreOption {
	return func(m *MockStore) {
		m.explainErrors[sqlText] = err
	}
}

// WithExecuteError makes Execute fail for a specific statement.
func WithExecuteError(sqlText string, err error) StoreOption {
	return func(m *MockStore) {
		m.executeErrors[sqlText] = err
	}
}

// WithResult sets the result Execute returns for a specific statement.
func WithResult(sqlText string, result *storage.Result) StoreOption {
	return func(m *MockStore) {
		m.results[sqlText] = result
	}
}

// NewMockStore creates a mock store with the given options.
func NewMockStore(opts ...StoreOption) *MockStore {
	mock := &MockStore{
		schema:        "Table 'matches':\n  - matchId: INTEGER (Primary Key)\n",
		dialect:       "SQLite",
		explainErrors: make(map[string]error),
		executeErrors: make(map[string]error),
		results:       make(map[string]*storage.Result),
		callCounts:    make(map[string]int),
	}

	for _, opt := range opts {
		opt(mock)
	}

	return mock
}

func (m *MockStore) DescribeSchema(_ context.Context) (string, error) {
	m.count("DescribeSchema")

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.schema, nil
}

func (m *MockStore) Explain(_ context.Context, sqlText string) error {
	m.count("Explain")

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err, exists := m.explainErrors[sqlText]; exists {
		return err
	}

	return nil
}

func (m *MockStore) Execute(_ context.Context, sqlText string) (*storage.Result, error) {
	m.count("Execute")

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err, exists := m.executeErrors[sqlText]; exists {
		return nil, err
	}

	if result, exists := m.results[sqlText]; exists {
		return result, nil
	}

	return &storage.Result{Columns: []string{}, Rows: []map[string]any{}}, nil
}

func (m *MockStore) Dialect() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.dialect
}

func (m *MockStore) Close() error { return nil }

// CallCount returns how many times the named method was invoked.
func (m *MockStore) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.callCounts[method]
}

func (m *MockStore) count(method string) {
	m.mu.Lock()
	m.callCounts[method]++
	m.mu.Unlock()
}

// MockExampleStore implements examples.Store with a fixed result set.
type MockExampleStore struct {
	mu sync.Mutex

	examples []examples.Example
	err      error
	calls    int
}

// NewMockExampleStore creates an example store returning the given pairs.
func NewMockExampleStore(pairs ...examples.Example) *MockExampleStore {
	return &MockExampleStore{examples: pairs}
}

// WithSimilarError makes Similar fail with err.
func (m *MockExampleStore) WithSimilarError(err error) *MockExampleStore {
	m.err = err
	return m
}

func (m *MockExampleStore) Similar(_ context.Context, _ string, k int) ([]examples.Example, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++

	if m.err != nil {
		return nil, m.err
	}

	if k > len(m.examples) {
		k = len(m.examples)
	}

	if k < 0 {
		k = 0
	}

	return m.examples[:k], nil
}

// Calls returns how many times Similar was invoked.
func (m *MockExampleStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}
