package prompt

import (
	"fmt"
	"strings"

	"github.com/statquery/statquery/internal/errors"
	"github.com/statquery/statquery/internal/examples"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in a conversation. Turns are immutable once received.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the ordered conversation, oldest first.
type History []Turn

// Validate checks the shape the workflow requires: a non-empty history whose
// last turn is from the user. This runs before any external call is made.
func (h History) Validate() error {
	if len(h) == 0 {
		return errors.New(errors.ErrTypeInput, "conversation history is empty")
	}

	for i, turn := range h {
		if turn.Role != RoleUser && turn.Role != RoleAssistant {
			return errors.Newf(errors.ErrTypeInput, "turn %d has unknown role %q", i, turn.Role)
		}

		if strings.TrimSpace(turn.Content) == "" {
			return errors.Newf(errors.ErrTypeInput, "turn %d has empty content", i)
		}
	}

	if h[len(h)-1].Role != RoleUser {
		return errors.New(errors.ErrTypeInput, "last turn must come from the user")
	}

	return nil
}

// Question returns the question being asked, i.e. the content of the final
// user turn.
func (h History) Question() string {
	if len(h) == 0 {
		return ""
	}

	return h[len(h)-1].Content
}

// Builder assembles generation and repair prompts. It is stateless apart from
// the dialect name and the row cap, so one instance is shared across requests.
type Builder struct {
	dialect  string
	rowLimit int
}

// NewBuilder creates a prompt builder for the given SQL dialect and row cap.
func NewBuilder(dialect string, rowLimit int) *Builder {
	return &Builder{dialect: dialect, rowLimit: rowLimit}
}

// systemRules renders the non-negotiable constraints embedded verbatim in
// every generation prompt, independent of anything the user wrote.
func (b *Builder) systemRules() string {
	return fmt.Sprintf(`You are an expert %[1]s assistant with strong attention to detail. Given the question, database table schema, and example queries, output a valid %[1]s query. Follow these rules:

Core logic and context:
- Questions are usually asked from the perspective of a Feyenoord supporter. When a match is referenced and only the opponent is named, assume the other club is Feyenoord.
- When a club name is referenced, do not rely only on the homeClubName and awayClubName columns. Also resolve the club through the clubName column of the clubs table via clubId, and keep the comparison tolerant of small spelling differences.
- When dates are mentioned, remember dates are stored as text in 'YYYY-MM-DD HH:MM:SS' format unless the schema indicates otherwise.

Query structure:
- Unless the user asks for a specific number of results, limit the query to at most %[2]d rows, ordered by a relevant column.
- Never select all columns from a table. Only select the columns relevant to the question.
- DO NOT produce any data-modifying or schema-modifying statement (INSERT, UPDATE, DELETE, DROP, ALTER, and so on). Only SELECT statements are allowed.
- Double-check join conditions, quoting, data types, and function arity before answering.

Output format:
- Only output the raw SQL query. No explanations, no markdown fences, no text other than the query itself.`, b.dialect, b.rowLimit)
}

// Generation builds the full generation prompt from the schema description,
// retrieved examples, and the conversation. It is a pure transformation.
func (b *Builder) Generation(schema string, shots []examples.Example, history History) (string, error) {
	if err := history.Validate(); err != nil {
		return "", err
	}

	var sb strings.Builder

	sb.WriteString(b.systemRules())
	sb.WriteString("\n\n=== Schema:\n")
	sb.WriteString(strings.TrimRight(schema, "\n"))
	sb.WriteString("\n")

	if len(shots) > 0 {
		sb.WriteString("\n=== Examples:\n")

		for _, shot := range shots {
			sb.WriteString("Question: ")
			sb.WriteString(shot.Question)
			sb.WriteString("\nSQL: ")
			sb.WriteString(shot.SQL)
			sb.WriteString("\n")
		}
	}

	if len(history) > 1 {
		sb.WriteString("\n=== Conversation so far:\n")

		for _, turn := range history[:len(history)-1] {
			sb.WriteString(string(turn.Role))
			sb.WriteString(": ")
			sb.WriteString(turn.Content)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n=== Question:\n")
	sb.WriteString(history.Question())
	sb.WriteString("\n=== Resulting query:")

	return sb.String(), nil
}

// Repair builds the follow-up prompt for one repair cycle: the original task,
// the failing SQL, and the exact error text.
func (b *Builder) Repair(schema, question, invalidSQL, errorDetail string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(`You are an expert %[1]s assistant. You are given an invalid %[1]s query, the error it produced, the database schema, and the original question. Fix the query so it is correct and still answers the original question.

Rules for fixing:
- Analyze the error message against the invalid SQL to find the cause.
- Use only table and column names that exist in the schema.
- Keep the intent of the original question.
- Only output the corrected raw SQL query. No explanations, no markdown fences.
- The corrected query must still be a SELECT statement limited to at most %[2]d rows.`, b.dialect, b.rowLimit))

	sb.WriteString("\n\n=== Schema:\n")
	sb.WriteString(strings.TrimRight(schema, "\n"))
	sb.WriteString("\n\n=== Original question:\n")
	sb.WriteString(question)
	sb.WriteString("\n\n=== Invalid SQL:\n")
	sb.WriteString(invalidSQL)
	sb.WriteString("\n\n=== Error:\n")
	sb.WriteString(errorDetail)
	sb.WriteString("\n\n=== Corrected query:")

	return sb.String()
}
