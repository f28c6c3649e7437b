package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAuditQuery(t *testing.T) {
	t.Run("always filters by user", func(t *testing.T) {
		query, args := buildAuditQuery("7", 0, "")
		assert.Contains(t, query, "WHERE user_id = $1")
		assert.NotContains(t, query, "LIMIT")
		assert.Equal(t, []interface{}{"7"}, args)
	})

	t.Run("action and limit are appended in order", func(t *testing.T) {
		query, args := buildAuditQuery("7", 50, "http_request")
		assert.Contains(t, query, "WHERE user_id = $1")
		assert.Contains(t, query, "AND action = $2")
		assert.Contains(t, query, "LIMIT $3")
		require.Len(t, args, 3)
		assert.Equal(t, "7", args[0])
		assert.Equal(t, "http_request", args[1])
		assert.Equal(t, 50, args[2])
	})

	t.Run("limit without action", func(t *testing.T) {
		query, args := buildAuditQuery("7", 10, "")
		assert.Contains(t, query, "LIMIT $2")
		assert.Equal(t, []interface{}{"7", 10}, args)
	})
}
