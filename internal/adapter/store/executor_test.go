package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicewise/invoicewise/internal/port"
)

func TestHasTenantBind(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"simple filter", "SELECT * FROM invoices WHERE user_id = :user_id", true},
		{"joined filter", "SELECT i.* FROM items i JOIN invoices inv ON inv.id = i.invoice_id WHERE inv.user_id = :user_id", true},
		{"literal user id does not count", "SELECT * FROM invoices WHERE user_id = 42", false},
		{"other binds only", "SELECT * FROM invoices WHERE vendor = :vendor", false},
		{"cast is not a bind", "SELECT * FROM items WHERE description_embedding <-> :query_embedding::vector < 1.3", false},
		{"bind plus cast", "SELECT * FROM items i JOIN invoices inv ON inv.id = i.invoice_id WHERE inv.user_id = :user_id AND i.description_embedding <-> :query_embedding::vector < :similarity_threshold", true},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasTenantBind(tt.sql))
		})
	}
}

func TestRewriteNamedBinds(t *testing.T) {
	t.Run("simple rewrite", func(t *testing.T) {
		sql, args, err := rewriteNamedBinds(
			"SELECT * FROM invoices WHERE user_id = :user_id AND vendor = :vendor",
			map[string]any{"user_id": int64(7), "vendor": "ACME"},
		)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM invoices WHERE user_id = $1 AND vendor = $2", sql)
		assert.Equal(t, []any{int64(7), "ACME"}, args)
	})

	t.Run("repeated name reuses ordinal", func(t *testing.T) {
		sql, args, err := rewriteNamedBinds(
			"SELECT * FROM invoices WHERE user_id = :user_id UNION SELECT * FROM invoices WHERE user_id = :user_id",
			map[string]any{"user_id": int64(7)},
		)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM invoices WHERE user_id = $1 UNION SELECT * FROM invoices WHERE user_id = $1", sql)
		assert.Len(t, args, 1)
	})

	t.Run("cast syntax untouched", func(t *testing.T) {
		sql, args, err := rewriteNamedBinds(
			"SELECT * FROM items WHERE description_embedding <-> :query_embedding::vector < :similarity_threshold AND user_id = :user_id",
			map[string]any{"query_embedding": "[0.1]", "similarity_threshold": 1.3, "user_id": int64(1)},
		)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM items WHERE description_embedding <-> $1::vector < $2 AND user_id = $3", sql)
		assert.Len(t, args, 3)
	})

	t.Run("unbound name errors", func(t *testing.T) {
		_, _, err := rewriteNamedBinds(
			"SELECT * FROM invoices WHERE user_id = :user_id",
			map[string]any{},
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "user_id")
	})
}

func TestIsSelectStatement(t *testing.T) {
	assert.True(t, isSelectStatement("SELECT 1"))
	assert.True(t, isSelectStatement("  select * from invoices  "))
	assert.True(t, isSelectStatement("WITH t AS (SELECT 1) SELECT * FROM t"))
	assert.True(t, isSelectStatement("SELECT 1;"))
	assert.False(t, isSelectStatement("DELETE FROM invoices"))
	assert.False(t, isSelectStatement("SELECT 1; DROP TABLE invoices"))
	assert.False(t, isSelectStatement(""))
}

func TestExecuteRefusesUnscopedStatement(t *testing.T) {
	// No database needed: the tenant guard fires before any connection use.
	e := NewExecutor(nil, time.Second)
	_, err := e.Execute(context.Background(),
		"SELECT * FROM invoices", map[string]any{}, 7)
	assert.ErrorIs(t, err, port.ErrTenantFilterMissing)
}

func TestClassifyError(t *testing.T) {
	t.Run("deadline is timeout", func(t *testing.T) {
		err := classifyError(context.DeadlineExceeded)
		execErr, ok := port.AsExecutionError(err)
		require.True(t, ok)
		assert.Equal(t, port.ExecTimeout, execErr.Kind)
	})

	t.Run("sqlstate 42 is syntax error", func(t *testing.T) {
		err := classifyError(&pq.Error{Code: "42601"})
		execErr, ok := port.AsExecutionError(err)
		require.True(t, ok)
		assert.Equal(t, port.ExecSyntaxError, execErr.Kind)
	})

	t.Run("query canceled is timeout", func(t *testing.T) {
		err := classifyError(&pq.Error{Code: "57014"})
		execErr, ok := port.AsExecutionError(err)
		require.True(t, ok)
		assert.Equal(t, port.ExecTimeout, execErr.Kind)
	})

	t.Run("anything else is runtime error", func(t *testing.T) {
		err := classifyError(errors.New("connection refused"))
		execErr, ok := port.AsExecutionError(err)
		require.True(t, ok)
		assert.Equal(t, port.ExecRuntimeError, execErr.Kind)
	})
}

func TestNormalizeValue(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, "2025-03-14T09:26:53Z", normalizeValue(ts))
	assert.Equal(t, 12.5, normalizeValue([]byte("12.5")))
	assert.Equal(t, "ACME GmbH", normalizeValue([]byte("ACME GmbH")))
	assert.Equal(t, int64(3), normalizeValue(int64(3)))
	assert.Equal(t, true, normalizeValue(true))
	assert.Nil(t, normalizeValue(nil))
}
