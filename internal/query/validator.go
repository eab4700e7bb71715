package query

import (
	"context"
	"strings"

	"github.com/statquery/statquery/internal/errors"
	"github.com/statquery/statquery/internal/storage"
)

// Validator decides whether generated SQL may run. It applies two gates in
// order: a policy gate that only admits SELECT statements, then a syntax gate
// that asks the database to EXPLAIN the statement without executing it.
type Validator struct {
	store storage.Store
}

// NewValidator creates a validator backed by the given store.
func NewValidator(store storage.Store) *Validator {
	return &Validator{store: store}
}

// Check validates sqlText. A nil return means the statement passed both
// gates. A policy_violation error means the statement is not a SELECT; a
// validation error means the database rejected it and carries the exact
// database error text for the repair prompt.
func (v *Validator) Check(ctx context.Context, sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return errors.New(errors.ErrTypePolicy, "empty statement")
	}

	if !isSelect(sqlText) {
		return errors.New(errors.ErrTypePolicy,
			"only SELECT statements are allowed").
			WithSuggestion("Rephrase the question as a read-only lookup")
	}

	if err := v.store.Explain(ctx, sqlText); err != nil {
		// The cause text is what the repair prompt feeds back verbatim.
		return errors.Wrap(err, errors.ErrTypeValidation, "statement failed validation")
	}

	return nil
}

// isSelect reports whether the statement begins with SELECT once leading
// whitespace and SQL comments are stripped. Comments are stripped so that a
// prefix like "/* hi */ DELETE ..." cannot smuggle a write past the gate.
func isSelect(sqlText string) bool {
	stripped := stripLeadingComments(sqlText)

	return len(stripped) >= len("select") &&
		strings.EqualFold(stripped[:len("select")], "select")
}

// stripLeadingComments removes any run of whitespace, -- line comments, and
// /* */ block comments from the front of the statement.
func stripLeadingComments(sqlText string) string {
	rest := sqlText

	for {
		rest = strings.TrimLeft(rest, " \t\r\n")

		switch {
		case strings.HasPrefix(rest, "--"):
			idx := strings.IndexByte(rest, '\n')
			if idx < 0 {
				return ""
			}

			rest = rest[idx+1:]

		case strings.HasPrefix(rest, "/*"):
			idx := strings.Index(rest, "*/")
			if idx < 0 {
				// Unterminated block comment, nothing runnable follows.
				return ""
			}

			rest = rest[idx+2:]

		default:
			return rest
		}
	}
}
