package service

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaColumn describes one column exposed to the SQL synthesizer.
type SchemaColumn struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Note string `yaml:"note,omitempty"`
}

// SchemaTable describes one table exposed to the SQL synthesizer.
type SchemaTable struct {
	Name    string         `yaml:"name"`
	Columns []SchemaColumn `yaml:"columns"`
}

// SchemaContext is the static description of queryable tables supplied to the
// synthesizer. It is loaded once at startup and read-only thereafter.
type SchemaContext struct {
	Tables []SchemaTable `yaml:"tables"`
	Notes  []string      `yaml:"notes,omitempty"`

	rendered string
}

// LoadSchemaContext reads a schema description from a YAML file, or returns
// the built-in default when path is empty.
func LoadSchemaContext(path string) (*SchemaContext, error) {
	if path == "" {
		return DefaultSchemaContext(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema context: %w", err)
	}
	var sc SchemaContext
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse schema context: %w", err)
	}
	if len(sc.Tables) == 0 {
		return nil, fmt.Errorf("schema context %s defines no tables", path)
	}
	return &sc, nil
}

// Render produces the plain-text schema description embedded into the
// synthesis prompt.
func (sc *SchemaContext) Render() string {
	if sc.rendered != "" {
		return sc.rendered
	}
	var b strings.Builder
	b.WriteString("Database Schema:\n")
	for _, t := range sc.Tables {
		b.WriteString("\n" + t.Name + ":\n")
		for _, c := range t.Columns {
			b.WriteString("- " + c.Name + " (" + c.Type + ")")
			if c.Note != "" {
				b.WriteString(": " + c.Note)
			}
			b.WriteString("\n")
		}
	}
	if len(sc.Notes) > 0 {
		b.WriteString("\nNotes:\n")
		for i, n := range sc.Notes {
			fmt.Fprintf(&b, "%d. %s\n", i+1, n)
		}
	}
	sc.rendered = b.String()
	return sc.rendered
}

// ColumnNames returns every known column name, used to reject statements that
// fabricate columns outside the schema.
func (sc *SchemaContext) ColumnNames() map[string]bool {
	names := map[string]bool{}
	for _, t := range sc.Tables {
		for _, c := range t.Columns {
			names[strings.ToLower(c.Name)] = true
		}
	}
	return names
}

// DefaultSchemaContext returns the built-in invoice schema.
func DefaultSchemaContext() *SchemaContext {
	return &SchemaContext{
		Tables: []SchemaTable{
			{
				Name: "users",
				Columns: []SchemaColumn{
					{Name: "id", Type: "INTEGER", Note: "primary key"},
					{Name: "whatsapp_number", Type: "TEXT"},
					{Name: "name", Type: "TEXT"},
					{Name: "email", Type: "TEXT"},
					{Name: "is_active", Type: "BOOLEAN"},
					{Name: "created_at", Type: "TIMESTAMP"},
				},
			},
			{
				Name: "invoices",
				Columns: []SchemaColumn{
					{Name: "id", Type: "INTEGER", Note: "primary key"},
					{Name: "user_id", Type: "INTEGER", Note: "foreign key to users.id - ALWAYS filter by this field"},
					{Name: "invoice_number", Type: "TEXT"},
					{Name: "invoice_date", Type: "TIMESTAMP"},
					{Name: "vendor", Type: "TEXT", Note: "company that issued the invoice"},
					{Name: "total_amount", Type: "FLOAT"},
					{Name: "tax_amount", Type: "FLOAT", Note: "nullable"},
					{Name: "currency", Type: "TEXT"},
					{Name: "notes", Type: "TEXT"},
					{Name: "created_at", Type: "TIMESTAMP"},
					{Name: "updated_at", Type: "TIMESTAMP"},
				},
			},
			{
				Name: "items",
				Columns: []SchemaColumn{
					{Name: "id", Type: "INTEGER", Note: "primary key"},
					{Name: "invoice_id", Type: "INTEGER", Note: "foreign key to invoices.id"},
					{Name: "description", Type: "TEXT"},
					{Name: "quantity", Type: "FLOAT"},
					{Name: "unit_price", Type: "FLOAT"},
					{Name: "total_price", Type: "FLOAT"},
					{Name: "item_category", Type: "TEXT", Note: "nullable"},
					{Name: "item_code", Type: "TEXT", Note: "nullable"},
					{Name: "description_embedding", Type: "VECTOR", Note: "embedding of the item description"},
					{Name: "created_at", Type: "TIMESTAMP"},
					{Name: "updated_at", Type: "TIMESTAMP"},
				},
			},
		},
		Notes: []string{
			"Every query MUST filter by user_id: add \"WHERE user_id = :user_id\" or, for joins, filter the invoices table.",
			"Use :param_name syntax for all bind parameters.",
			"The items table has no user_id column; join invoices and filter invoices.user_id.",
			"user_id is an INTEGER, never a UUID.",
		},
	}
}
