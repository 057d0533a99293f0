package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// Op is a comparison operator for a query predicate.
type Op string

const (
	Eq  Op = "=="
	Lt  Op = "<"
	Lte Op = "<="
	Gt  Op = ">"
	Gte Op = ">="
	In  Op = "in"
)

// MaxFilters is the number of predicates a query may chain.
const MaxFilters = 2

// ErrInvalidQuery wraps every query shape error.
var ErrInvalidQuery = errors.New("invalid query")

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// Collection starts a query over the named collection.
func Collection(name string) Query {
	return Query{Collection: name}
}

func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = field
	q.Desc = desc
	return q
}

func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// Validate checks the query shape before it reaches SQL.
func (q Query) Validate() error {
	if err := q.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return nil
}

func (q Query) validate() error {
	if q.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	if len(q.Filters) > MaxFilters {
		return fmt.Errorf("query on %s has %d predicates; at most %d supported", q.Collection, len(q.Filters), MaxFilters)
	}
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return fmt.Errorf("invalid field name %q", f.Field)
		}
		switch f.Op {
		case Eq, Lt, Lte, Gt, Gte, In:
		default:
			return fmt.Errorf("invalid operator %q", f.Op)
		}
	}
	if q.OrderBy != "" && !fieldPattern.MatchString(q.OrderBy) {
		return fmt.Errorf("invalid order field %q", q.OrderBy)
	}
	if q.Limit < 0 {
		return fmt.Errorf("invalid limit %d", q.Limit)
	}
	return nil
}

func (q Query) toSQL() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	clauses := []string{"collection=?"}
	args := []any{q.Collection}
	for _, f := range q.Filters {
		clause, fargs, err := filterSQL(f)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, fargs...)
	}
	query := `SELECT id,data,created_at,updated_at FROM documents WHERE ` + strings.Join(clauses, " AND ")
	if q.OrderBy != "" {
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		// Stored timestamps use TimeLayout, so they order chronologically as text.
		query += fmt.Sprintf(` ORDER BY json_extract(data,'$.%s') %s, id ASC`, q.OrderBy, dir)
	} else {
		query += ` ORDER BY id ASC`
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}
	return query, args, nil
}

func filterSQL(f Filter) (string, []any, error) {
	path := fmt.Sprintf("json_extract(data,'$.%s')", f.Field)
	if f.Op == In {
		values, err := flatten(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("%w: field %s: %v", ErrInvalidQuery, f.Field, err)
		}
		if len(values) == 0 {
			return "0", nil, nil
		}
		marks := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		return fmt.Sprintf("%s IN (%s)", path, marks), values, nil
	}
	op := string(f.Op)
	if f.Op == Eq {
		op = "="
	}
	if t, ok := f.Value.(time.Time); ok {
		// julianday only checks the field holds a date; it rounds to milliseconds,
		// so the comparison itself is on the fixed-width text.
		return fmt.Sprintf("(julianday(%s) IS NOT NULL AND %s %s ?)", path, path, op), []any{formatTime(t)}, nil
	}
	return fmt.Sprintf("%s %s ?", path, op), []any{sqlValue(f.Value)}, nil
}

func flatten(v any) ([]any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("in operator requires a slice, got %T", v)
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, sqlValue(rv.Index(i).Interface()))
	}
	return out, nil
}

// sqlValue maps Go values to what json_extract yields for the same JSON.
func sqlValue(v any) any {
	switch val := v.(type) {
	case bool:
		if val {
			return 1
		}
		return 0
	case fmt.Stringer:
		return val.String()
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.String {
			return rv.String()
		}
		return v
	}
}

// Query runs q and returns matching documents.
func (s *Store) Query(ctx context.Context, q Query) ([]Document, error) {
	query, args, err := q.toSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		var id, data, created, updated string
		if err := rows.Scan(&id, &data, &created, &updated); err != nil {
			return nil, err
		}
		d := Document{Collection: q.Collection, ID: id, Data: json.RawMessage(data)}
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
