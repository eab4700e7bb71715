package query

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/statquery/statquery/internal/config"
	"github.com/statquery/statquery/internal/errors"
	"github.com/statquery/statquery/internal/examples"
	"github.com/statquery/statquery/internal/llm"
	"github.com/statquery/statquery/internal/logging"
	"github.com/statquery/statquery/internal/prompt"
	"github.com/statquery/statquery/internal/storage"
)

// Workflow states, logged as the "state" field so a request can be traced
// through its lifecycle.
const (
	stateBuildingPrompt = "building_prompt"
	stateGenerating     = "generating"
	stateValidating     = "validating"
	stateExecuting      = "executing"
	stateRepairing      = "repairing"
	stateDone           = "done"
	stateFailed         = "failed"
)

// Response is the outcome of a successful question run: the statement that
// ran, how many generation attempts it took, and the rows it produced.
type Response struct {
	SQL      string          `json:"sql"`
	Attempts int             `json:"attempts"`
	Result   *storage.Result `json:"result"`
}

// Engine runs the question-to-result workflow: build prompt, generate SQL,
// validate, repair within budget, execute. One Engine serves concurrent
// requests; per-request state lives on the stack.
type Engine struct {
	store     storage.Store
	generator llm.Service
	shots     examples.Store
	prompts   *prompt.Builder
	validator *Validator
	logger    *logging.Logger

	maxRepairAttempts int
	exampleCount      int
	attemptTimeout    time.Duration

	schemaOnce sync.Once
	schemaErr  error
	schema     string
}

// NewEngine wires an engine from its collaborators. The prompt builder is
// derived from the store's dialect and the configured row cap.
func NewEngine(
	cfg *config.Config,
	store storage.Store,
	generator llm.Service,
	shots examples.Store,
	logger *logging.Logger,
) *Engine {
	return &Engine{
		store:             store,
		generator:         generator,
		shots:             shots,
		prompts:           prompt.NewBuilder(store.Dialect(), cfg.Workflow.RowLimit),
		validator:         NewValidator(store),
		logger:            logger,
		maxRepairAttempts: cfg.Workflow.MaxRepairAttempts,
		exampleCount:      cfg.Examples.Count,
		attemptTimeout:    cfg.Workflow.AttemptTimeoutDuration(),
	}
}

// Schema returns the human-readable schema description, cached for the
// process lifetime. The schema is treated as immutable while running.
func (e *Engine) Schema(ctx context.Context) (string, error) {
	e.schemaOnce.Do(func() {
		e.schema, e.schemaErr = e.store.DescribeSchema(ctx)
	})

	if e.schemaErr != nil {
		return "", errors.Wrap(e.schemaErr, errors.ErrTypeDatabase, "failed to describe schema")
	}

	return e.schema, nil
}

// CheckQuery validates a statement without executing it.
func (e *Engine) CheckQuery(ctx context.Context, sqlText string) error {
	return e.validator.Check(ctx, sqlText)
}

// ExecuteQuery validates and then runs a caller-supplied statement. Unlike
// the generated path there is no repair: the caller's SQL either runs or
// fails.
func (e *Engine) ExecuteQuery(ctx context.Context, sqlText string) (*storage.Result, error) {
	if err := e.validator.Check(ctx, sqlText); err != nil {
		return nil, err
	}

	result, err := e.store.Execute(ctx, sqlText)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeExecution, "query execution failed")
	}

	return result, nil
}

// Answer runs the full workflow for a conversation and returns the executed
// SQL together with its result. The input is checked before any model or
// database call is made.
func (e *Engine) Answer(ctx context.Context, history prompt.History) (*Response, error) {
	return e.run(ctx, history, true)
}

// GenerateSQL runs the workflow up to and including validation but never
// executes: it returns a statement that passed both gates. Repair semantics
// are the same as Answer's, minus the execution-failure path.
func (e *Engine) GenerateSQL(ctx context.Context, history prompt.History) (*Response, error) {
	return e.run(ctx, history, false)
}

func (e *Engine) run(ctx context.Context, history prompt.History, execute bool) (*Response, error) {
	if err := history.Validate(); err != nil {
		return nil, err
	}

	log := e.logger.WithField("request_id", uuid.NewString())
	question := history.Question()

	log.WithFields(map[string]interface{}{
		"state":    stateBuildingPrompt,
		"question": question,
	}).Debug("building generation prompt")

	schema, err := e.Schema(ctx)
	if err != nil {
		return nil, err
	}

	shots := e.retrieveExamples(ctx, log, question)

	generationPrompt, err := e.prompts.Generation(schema, shots, history)
	if err != nil {
		return nil, err
	}

	// Attempt 1 is the initial generation; each repair cycle adds one.
	maxAttempts := 1 + e.maxRepairAttempts
	currentPrompt := generationPrompt

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptLog := log.WithField("attempt", attempt)

		sqlText, err := e.generate(ctx, attemptLog, currentPrompt)
		if err != nil {
			// Generation failures are terminal, the repair budget only
			// covers invalid SQL.
			attemptLog.WithField("state", stateFailed).Error("generation failed", err)
			return nil, err
		}

		attemptLog.WithFields(map[string]interface{}{
			"state": stateValidating,
			"sql":   sqlText,
		}).Debug("validating generated statement")

		if err := e.check(ctx, sqlText); err != nil {
			if errors.IsType(err, errors.ErrTypePolicy) {
				attemptLog.WithFields(map[string]interface{}{
					"state":      stateFailed,
					"sql_prefix": statementPrefix(sqlText),
				}).Warn("generated statement rejected by policy")

				return nil, err
			}

			if attempt < maxAttempts {
				attemptLog.WithFields(map[string]interface{}{
					"state": stateRepairing,
					"cause": err.Error(),
				}).Info("statement invalid, attempting repair")

				currentPrompt = e.prompts.Repair(schema, question, sqlText, causeText(err))

				continue
			}

			attemptLog.WithField("state", stateFailed).Error("repair budget exhausted", err)

			return nil, errors.Wrapf(err, errors.ErrTypeUnrecoverable,
				"no valid query after %d attempts", maxAttempts)
		}

		if !execute {
			attemptLog.WithField("state", stateDone).Info("statement generated")
			return &Response{SQL: sqlText, Attempts: attempt}, nil
		}

		attemptLog.WithField("state", stateExecuting).Debug("executing statement")

		result, err := e.execute(ctx, sqlText)
		if err != nil {
			if attempt < maxAttempts {
				attemptLog.WithFields(map[string]interface{}{
					"state": stateRepairing,
					"cause": err.Error(),
				}).Info("execution failed, attempting repair")

				currentPrompt = e.prompts.Repair(schema, question, sqlText, causeText(err))

				continue
			}

			attemptLog.WithField("state", stateFailed).Error("execution failed", err)

			return nil, errors.Wrap(err, errors.ErrTypeExecution, "query execution failed")
		}

		attemptLog.WithFields(map[string]interface{}{
			"state":     stateDone,
			"row_count": result.RowCount,
		}).Info("question answered")

		return &Response{SQL: sqlText, Attempts: attempt, Result: result}, nil
	}

	// Unreachable: the loop always returns.
	return nil, errors.New(errors.ErrTypeInternal, "workflow ended without outcome")
}

// retrieveExamples fetches few-shot pairs; retrieval failure degrades the
// prompt instead of failing the request.
func (e *Engine) retrieveExamples(ctx context.Context, log *logging.Logger, question string) []examples.Example {
	shots, err := e.shots.Similar(ctx, question, e.exampleCount)
	if err != nil {
		log.WithError(err).Warn("example retrieval failed, continuing without examples")
		return nil
	}

	return shots
}

// attemptContext bounds one external call (generate, validate, or execute)
// with the configured per-attempt timeout.
func (e *Engine) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.attemptTimeout > 0 {
		return context.WithTimeout(ctx, e.attemptTimeout)
	}

	return ctx, func() {}
}

func (e *Engine) generate(ctx context.Context, log *logging.Logger, currentPrompt string) (string, error) {
	log.WithField("state", stateGenerating).Debug("requesting completion")

	genCtx, cancel := e.attemptContext(ctx)
	defer cancel()

	raw, err := e.generator.Generate(genCtx, currentPrompt)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeGeneration, "text generation failed")
	}

	sqlText := cleanSQL(raw)
	if sqlText == "" {
		return "", errors.New(errors.ErrTypeGeneration, "model returned no SQL")
	}

	return sqlText, nil
}

func (e *Engine) check(ctx context.Context, sqlText string) error {
	checkCtx, cancel := e.attemptContext(ctx)
	defer cancel()

	return e.validator.Check(checkCtx, sqlText)
}

func (e *Engine) execute(ctx context.Context, sqlText string) (*storage.Result, error) {
	execCtx, cancel := e.attemptContext(ctx)
	defer cancel()

	return e.store.Execute(execCtx, sqlText)
}

// cleanSQL strips markdown fences and surrounding whitespace from model
// output. Models occasionally wrap the statement in ```sql blocks despite the
// raw-output instruction.
func cleanSQL(raw string) string {
	cleaned := strings.TrimSpace(raw)

	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```sql")
		cleaned = strings.TrimPrefix(cleaned, "```SQL")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	}

	return strings.TrimSpace(cleaned)
}

// statementPrefix truncates a statement for log fields so a huge generated
// query cannot flood the log.
func statementPrefix(sqlText string) string {
	const maxPrefix = 80

	if len(sqlText) <= maxPrefix {
		return sqlText
	}

	return sqlText[:maxPrefix] + "..."
}

// causeText extracts the database error text to feed back into the repair
// prompt. The wrapped cause is preferred because it holds the driver's exact
// message.
func causeText(err error) string {
	var structErr *errors.Error
	if stderrors.As(err, &structErr) && structErr.Cause != nil {
		return structErr.Cause.Error()
	}

	return err.Error()
}
