package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/invoicewise/invoicewise/internal/port"
)

// TenantBind is the named bind parameter every synthesized statement must
// reference. Execution is refused otherwise.
const TenantBind = "user_id"

// Executor runs synthesized SQL safely: it verifies tenant scoping, rewrites
// named binds to positional parameters, bounds execution time and normalizes
// heterogeneous result rows.
type Executor struct {
	store   *PostgresStore
	timeout time.Duration
}

// NewExecutor creates an executor with the given per-query timeout.
func NewExecutor(store *PostgresStore, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Executor{store: store, timeout: timeout}
}

var bindPattern = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)

// Execute runs a synthesized SELECT statement for one tenant and returns
// normalized rows. The tenant id is bound defensively regardless of what the
// caller put in binds; a statement without any tenant predicate is refused
// with port.ErrTenantFilterMissing before touching the database.
func (e *Executor) Execute(ctx context.Context, sqlText string, binds map[string]any, userID int64) ([]map[string]any, error) {
	if !HasTenantBind(sqlText) {
		slog.Error("refusing to execute unscoped sql", "user_id", userID)
		return nil, port.ErrTenantFilterMissing
	}
	if !isSelectStatement(sqlText) {
		return nil, &port.ExecutionError{Kind: port.ExecSyntaxError,
			Err: errors.New("statement is not a single SELECT")}
	}

	if binds == nil {
		binds = map[string]any{}
	}
	binds[TenantBind] = userID

	positional, args, err := rewriteNamedBinds(sqlText, binds)
	if err != nil {
		return nil, &port.ExecutionError{Kind: port.ExecSyntaxError, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.store.db.QueryContext(ctx, positional, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	normalized, err := normalizeRows(rows)
	if err != nil {
		return nil, classifyError(err)
	}
	return normalized, nil
}

// HasTenantBind reports whether the statement references the tenant bind
// parameter. A literal user_id comparison does not count: only the bind
// guarantees the executor controls the value.
func HasTenantBind(sqlText string) bool {
	for _, m := range bindPattern.FindAllStringSubmatchIndex(sqlText, -1) {
		// Skip Postgres cast syntax (::vector etc).
		if m[0] > 0 && sqlText[m[0]-1] == ':' {
			continue
		}
		if sqlText[m[2]:m[3]] == TenantBind {
			return true
		}
	}
	return false
}

// isSelectStatement verifies the text is one read-only SELECT/WITH statement.
func isSelectStatement(sqlText string) bool {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"))
	if trimmed == "" || strings.Contains(trimmed, ";") {
		return false
	}
	upper := strings.ToUpper(trimmed)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

// rewriteNamedBinds converts :name placeholders to $n positionals, reusing
// the same ordinal for repeated names. Postgres cast syntax (::vector) is
// left untouched. Unknown names are an error.
func rewriteNamedBinds(sqlText string, binds map[string]any) (string, []any, error) {
	ordinals := map[string]int{}
	var args []any
	var out strings.Builder

	for i := 0; i < len(sqlText); {
		c := sqlText[i]
		if c != ':' {
			out.WriteByte(c)
			i++
			continue
		}
		// Double colon is a cast, not a bind.
		if i+1 < len(sqlText) && sqlText[i+1] == ':' {
			out.WriteString("::")
			i += 2
			continue
		}
		loc := bindPattern.FindStringSubmatchIndex(sqlText[i:])
		if loc == nil || loc[0] != 0 {
			out.WriteByte(c)
			i++
			continue
		}
		name := sqlText[i+loc[2] : i+loc[3]]
		n, seen := ordinals[name]
		if !seen {
			val, ok := binds[name]
			if !ok {
				return "", nil, fmt.Errorf("unbound parameter: %s", name)
			}
			args = append(args, val)
			n = len(args)
			ordinals[name] = n
		}
		out.WriteString("$" + strconv.Itoa(n))
		i += loc[1]
	}

	return out.String(), args, nil
}

// classifyError maps driver failures onto the executor error taxonomy.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &port.ExecutionError{Kind: port.ExecTimeout, Err: err}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// SQLSTATE class 42 covers syntax errors and unknown columns/tables.
		if strings.HasPrefix(string(pqErr.Code), "42") {
			return &port.ExecutionError{Kind: port.ExecSyntaxError, Err: err}
		}
		// 57014 is query_canceled, raised when statement_timeout fires.
		if pqErr.Code == "57014" {
			return &port.ExecutionError{Kind: port.ExecTimeout, Err: err}
		}
	}
	return &port.ExecutionError{Kind: port.ExecRuntimeError, Err: err}
}

// normalizeRows flattens heterogeneous result rows into uniform field maps,
// converting database-native date/decimal types into plain values.
func normalizeRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// normalizeValue converts driver-native values into JSON-friendly forms:
// timestamps become ISO strings, numeric bytes become float64.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case []byte:
		s := string(val)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	case int64, float64, bool, string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
