package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statquery/statquery/internal/errors"
	"github.com/statquery/statquery/internal/testutil"
)

func TestCheckAllowsSelect(t *testing.T) {
	validator := NewValidator(testutil.NewMockStore())

	tests := []struct {
		name string
		sql  string
	}{
		{"plain select", "SELECT 1"},
		{"lowercase", "select matchId from matches"},
		{"mixed case", "SeLeCt 1"},
		{"leading whitespace", "  \n\t SELECT 1"},
		{"leading line comment", "-- top scorers\nSELECT playerName FROM goals"},
		{"leading block comment", "/* generated */ SELECT 1"},
		{"stacked comments", "-- a\n/* b */\n  SELECT 1"},
		{"select without limit", "SELECT matchId FROM matches"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, validator.Check(context.Background(), tt.sql))
		})
	}
}

func TestCheckRejectsNonSelect(t *testing.T) {
	store := testutil.NewMockStore()
	validator := NewValidator(store)

	tests := []struct {
		name string
		sql  string
	}{
		{"delete", "DELETE FROM matches"},
		{"update", "UPDATE matches SET homeClubFinalScore = 0"},
		{"insert", "INSERT INTO matches VALUES (1)"},
		{"drop", "DROP TABLE matches"},
		{"comment hiding a delete", "/* SELECT */ DELETE FROM matches"},
		{"line comment hiding a delete", "-- SELECT 1\nDELETE FROM matches"},
		{"empty", "   "},
		{"comment only", "-- nothing here"},
		{"unterminated block comment", "/* SELECT 1"},
		{"select substring but not prefix", "EXPLAIN SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Check(context.Background(), tt.sql)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypePolicy))
		})
	}

	// The policy gate fires before the database is consulted.
	assert.Zero(t, store.CallCount("Explain"))
}

func TestCheckSurfacesExplainFailure(t *testing.T) {
	explainErr := errors.New(errors.ErrTypeDatabase, "no such column: playerNam")
	store := testutil.NewMockStore(
		testutil.WithExplainError("SELECT playerNam FROM players", explainErr),
	)
	validator := NewValidator(store)

	err := validator.Check(context.Background(), "SELECT playerNam FROM players")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Contains(t, err.Error(), "no such column: playerNam")
}

func TestStripLeadingComments(t *testing.T) {
	assert.Equal(t, "SELECT 1", stripLeadingComments("  -- c\n/* c2 */ SELECT 1"))
	assert.Equal(t, "", stripLeadingComments("-- only a comment"))
	assert.Equal(t, "SELECT 1", stripLeadingComments("SELECT 1"))
}
