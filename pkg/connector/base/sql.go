package base

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// SQLQuery pages through a table or a query with LIMIT/OFFSET. Paging is
// only stable when order_by names a total order.
type SQLQuery struct {
	from    string
	orderBy string
	quote   string
}

// NewSQLQuery reads the table, query and order_by options. quote is the
// identifier quote of the dialect.
func NewSQLQuery(cfg config.SourceConfig, quote string) (*SQLQuery, error) {
	table := cfg.Option("table", "")
	query := strings.TrimSuffix(strings.TrimSpace(cfg.Option("query", "")), ";")
	q := &SQLQuery{quote: quote}
	switch {
	case table != "" && query != "":
		return nil, errors.Config(cfg.Name, "table and query are mutually exclusive", nil)
	case table != "":
		q.from = q.Ident(table)
	case query != "":
		q.from = "(" + query + ") AS q"
	default:
		return nil, errors.Config(cfg.Name, "one of table or query is required", nil)
	}
	if ob := cfg.ListOption("order_by"); len(ob) > 0 {
		parts := make([]string, len(ob))
		for i, col := range ob {
			fields := strings.Fields(col)
			parts[i] = q.Ident(fields[0])
			if len(fields) == 2 && (strings.EqualFold(fields[1], "asc") || strings.EqualFold(fields[1], "desc")) {
				parts[i] += " " + strings.ToUpper(fields[1])
			} else if len(fields) != 1 {
				return nil, errors.Config(cfg.Name, "invalid order_by entry "+strconv.Quote(col), nil)
			}
		}
		q.orderBy = strings.Join(parts, ", ")
	}
	return q, nil
}

// Ident quotes a possibly qualified identifier.
func (q *SQLQuery) Ident(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = q.quote + strings.ReplaceAll(p, q.quote, q.quote+q.quote) + q.quote
	}
	return strings.Join(parts, ".")
}

// Probe selects every column of the first n rows.
func (q *SQLQuery) Probe(n int) string {
	return "SELECT * FROM " + q.from + " LIMIT " + strconv.Itoa(n)
}

// Page selects columns (all when empty) for rows [offset, offset+limit).
func (q *SQLQuery) Page(columns []string, offset int64, limit int) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(columns) == 0 {
		sb.WriteString("*")
	}
	for i, c := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(q.quote + strings.ReplaceAll(c, q.quote, q.quote+q.quote) + q.quote)
	}
	sb.WriteString(" FROM ")
	sb.WriteString(q.from)
	if q.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.orderBy)
	}
	sb.WriteString(" LIMIT ")
	sb.WriteString(strconv.Itoa(limit))
	sb.WriteString(" OFFSET ")
	sb.WriteString(strconv.FormatInt(offset, 10))
	return sb.String()
}

// DSN returns the dsn option, falling back to the location.
func DSN(cfg config.SourceConfig) (string, error) {
	dsn := cfg.Option("dsn", cfg.Location)
	if dsn == "" {
		return "", errors.Config(cfg.Name, "dsn is required", nil)
	}
	return dsn, nil
}
