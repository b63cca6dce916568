// Package dbquery implements the database_query Source Adapter, per
// spec.md §4.5.5: a read-only-by-default SQL fetcher shared across
// PostgreSQL, MySQL, and SQLite, with a forbidden-token guard since the
// query text itself is operator-supplied.
package dbquery

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/docingest/pipeline/internal/adapter"
	"github.com/docingest/pipeline/internal/pipeline"
)

var fallbackContentColumns = []string{"content", "body", "text", "description", "message"}

var forbiddenTokens = []string{"DROP", "DELETE", "INSERT", "UPDATE", "TRUNCATE", "ALTER"}

// Config holds the database_query adapter's tunables.
type Config struct {
	ReadOnly bool
	Timeout  time.Duration
	MaxRows  int
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{ReadOnly: true, Timeout: 30 * time.Second, MaxRows: 1000}
}

const hardMaxRows = 10000

// Adapter implements adapter.Adapter for source=database_query.
type Adapter struct {
	tenantID string
	cfg      Config

	mu    sync.Mutex
	pools map[string]*sql.DB // keyed on connection_string
}

// New constructs a database_query adapter.
func New(tenantID string, cfg Config) *Adapter {
	return &Adapter{tenantID: tenantID, cfg: cfg, pools: make(map[string]*sql.DB)}
}

func (a *Adapter) Validate(params adapter.Params) error {
	p := params.DBQuery
	if p == nil || p.ConnectionString == "" {
		return pipeline.Validationf("connection_string is required")
	}
	if _, _, err := parseDriver(p.ConnectionString); err != nil {
		return pipeline.Validationf("invalid connection_string: %v", err)
	}
	if strings.TrimSpace(p.Query) == "" {
		return pipeline.Validationf("query is required")
	}

	readOnly := a.cfg.ReadOnly
	if p.ReadOnly != nil {
		readOnly = *p.ReadOnly
	}
	if readOnly {
		if err := enforceReadOnly(p.Query); err != nil {
			return err
		}
	}

	if p.MaxRows < 0 || p.MaxRows > hardMaxRows {
		return pipeline.Validationf("max_rows must be between 0 and %d", hardMaxRows)
	}
	return nil
}

// enforceReadOnly rejects any query whose first token isn't SELECT/WITH, or
// that contains a forbidden DDL/DML token outside string literals.
func enforceReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	firstToken := strings.ToUpper(firstWord(trimmed))
	if firstToken != "SELECT" && firstToken != "WITH" {
		return pipeline.Forbiddenf("read_only mode requires query to start with SELECT or WITH")
	}

	stripped := stripStringLiterals(trimmed)
	upper := strings.ToUpper(stripped)
	for _, tok := range forbiddenTokens {
		if matched, _ := regexp.MatchString(`\b`+tok+`\b`, upper); matched {
			return pipeline.Forbiddenf("read_only mode forbids token %s in query", tok)
		}
	}
	return nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

var stringLiteralPattern = regexp.MustCompile(`'[^']*'`)

func stripStringLiterals(query string) string {
	return stringLiteralPattern.ReplaceAllString(query, "''")
}

func (a *Adapter) Fetch(ctx context.Context, params adapter.Params) ([]pipeline.RawDocument, error) {
	if err := a.Validate(params); err != nil {
		return nil, err
	}
	p := params.DBQuery

	db, driverName, err := a.pool(p.ConnectionString)
	if err != nil {
		return nil, err
	}

	maxRows := p.MaxRows
	if maxRows == 0 {
		maxRows = a.cfg.MaxRows
	}
	if maxRows > hardMaxRows {
		maxRows = hardMaxRows
	}

	queryCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	query, args := bindNamedParams(p.Query, p.QueryParams, driverName)

	rows, err := db.QueryContext(queryCtx, query, args...)
	if err != nil {
		return nil, pipeline.Transientf(err, "query failed against %s", maskPassword(p.ConnectionString))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, pipeline.Internalf(err, "failed to read result columns")
	}

	var docs []pipeline.RawDocument
	for rows.Next() && len(docs) < maxRows {
		rowMap, err := scanRow(rows, cols)
		if err != nil {
			return nil, pipeline.Internalf(err, "failed to scan row")
		}

		content := rowContent(rowMap, p.ContentColumn)
		docID := rowDocumentID(rowMap, p.IDColumn, len(docs))

		metadata := map[string]string{}
		for k, v := range rowMap {
			if k == p.ContentColumn {
				continue
			}
			metadata[k] = fmt.Sprintf("%v", v)
		}
		metadata["source"] = string(pipeline.SourceDBQuery)
		metadata["db_row_id"] = docID
		metadata["fetched_at"] = time.Now().UTC().Format(time.RFC3339)
		if p.TitleColumn != "" {
			if v, ok := rowMap[p.TitleColumn]; ok {
				metadata["title"] = fmt.Sprintf("%v", v)
			}
		}

		docs = append(docs, pipeline.RawDocument{
			DocumentID:      docID,
			Content:         content,
			ContentBytesLen: len(content),
			TenantID:        a.tenantID,
			Metadata:        metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.Transientf(err, "error iterating result rows")
	}

	adapter.EnsureUniqueDocumentIDs(docs)
	return docs, nil
}

func scanRow(rows *sql.Rows, cols []string) (map[string]any, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(cols))
	for i, c := range cols {
		switch v := values[i].(type) {
		case []byte:
			out[c] = string(v)
		default:
			out[c] = v
		}
	}
	return out, nil
}

func rowContent(row map[string]any, contentColumn string) string {
	if contentColumn != "" {
		if v, ok := row[contentColumn]; ok {
			return fmt.Sprintf("%v", v)
		}
	}
	for _, fallback := range fallbackContentColumns {
		if v, ok := row[fallback]; ok {
			return fmt.Sprintf("%v", v)
		}
	}
	b, _ := json.Marshal(row)
	return string(b)
}

func rowDocumentID(row map[string]any, idColumn string, index int) string {
	if idColumn != "" {
		if v, ok := row[idColumn]; ok {
			return fmt.Sprintf("%v", v)
		}
	}
	b, _ := json.Marshal(row)
	return deterministicRowID(string(b), index)
}

// bindNamedParams translates a :name-style bound query against the teacher's
// named-parameter map into positional driver parameters, since
// database/sql's standard library has no named-binding support of its own;
// the mapping is driver-agnostic so the same query text works across
// PostgreSQL/MySQL/SQLite placeholder styles.
func bindNamedParams(query string, params map[string]any, driverName string) (string, []any) {
	if len(params) == 0 {
		return query, nil
	}

	var args []any
	n := 0
	result := namedParamPattern.ReplaceAllStringFunc(query, func(match string) string {
		name := strings.TrimPrefix(match, ":")
		v, ok := params[name]
		if !ok {
			return match
		}
		n++
		args = append(args, v)
		return placeholderFor(driverName, n)
	})
	return result, args
}

var namedParamPattern = regexp.MustCompile(`:[a-zA-Z_][a-zA-Z0-9_]*`)

func placeholderFor(driverName string, n int) string {
	if driverName == "pgx" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (a *Adapter) pool(connectionString string) (*sql.DB, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	driverName, dsn, err := parseDriver(connectionString)
	if err != nil {
		return nil, "", pipeline.Validationf("invalid connection_string: %v", err)
	}

	if db, ok := a.pools[connectionString]; ok {
		return db, driverName, nil
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, "", pipeline.Internalf(err, "failed to open connection pool for %s", maskPassword(connectionString))
	}
	a.pools[connectionString] = db
	return db, driverName, nil
}

// parseDriver maps a connection_string's scheme to a registered database/sql
// driver name and its native DSN, per spec.md's PostgreSQL/MySQL/SQLite
// coverage.
func parseDriver(connectionString string) (driverName, dsn string, err error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return "", "", err
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		return "pgx", connectionString, nil
	case "mysql":
		return "mysql", strings.TrimPrefix(connectionString, "mysql://"), nil
	case "sqlite", "sqlite3", "file":
		return "sqlite", strings.TrimPrefix(connectionString, u.Scheme+"://"), nil
	default:
		return "", "", fmt.Errorf("unrecognized connection_string scheme: %s", u.Scheme)
	}
}

// maskPassword redacts a connection string's password component before it
// reaches a log line, per spec.md §4.5.5 step 1.
func maskPassword(connectionString string) string {
	u, err := url.Parse(connectionString)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

func deterministicRowID(content string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", index, content)))
	return "row-" + hex.EncodeToString(sum[:])[:16]
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, db := range a.pools {
		if err := db.PingContext(ctx); err != nil {
			return false
		}
	}
	return true
}

func (a *Adapter) SupportedFormats() []string {
	return []string{"postgres", "mysql", "sqlite"}
}

var _ adapter.Adapter = (*Adapter)(nil)
