package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSchemaContext(t *testing.T) {
	sc := DefaultSchemaContext()
	require.Len(t, sc.Tables, 3)

	names := sc.ColumnNames()
	assert.True(t, names["user_id"])
	assert.True(t, names["description_embedding"])
	assert.True(t, names["total_amount"])
	assert.False(t, names["secret_margin"])

	rendered := sc.Render()
	assert.Contains(t, rendered, "invoices:")
	assert.Contains(t, rendered, "user_id")
	assert.Contains(t, rendered, ":user_id")
}

func TestLoadSchemaContext(t *testing.T) {
	t.Run("empty path yields default", func(t *testing.T) {
		sc, err := LoadSchemaContext("")
		require.NoError(t, err)
		assert.Len(t, sc.Tables, 3)
	})

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schema.yaml")
		content := `tables:
  - name: invoices
    columns:
      - name: id
        type: INTEGER
      - name: user_id
        type: INTEGER
        note: always filter
notes:
  - filter by user_id
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		sc, err := LoadSchemaContext(path)
		require.NoError(t, err)
		require.Len(t, sc.Tables, 1)
		assert.True(t, sc.ColumnNames()["user_id"])
		assert.Contains(t, sc.Render(), "always filter")
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := LoadSchemaContext("/nonexistent/schema.yaml")
		assert.Error(t, err)
	})

	t.Run("empty schema errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("notes: []\n"), 0o644))
		_, err := LoadSchemaContext(path)
		assert.Error(t, err)
	})
}
