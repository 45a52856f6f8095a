package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/parosapp/paros-go/backend"
	"github.com/pkg/errors"
)

var sqlComparison = map[backend.Operator]string{
	backend.OpGreater:      ">",
	backend.OpGreaterEqual: ">=",
	backend.OpLess:         "<",
	backend.OpLessEqual:    "<=",
}

// buildDocumentQuery renders filters and options into a documents query.
// Field names and values travel as parameters, never as SQL text, so no
// caller input is interpolated.
func buildDocumentQuery(collection string, filters []backend.QueryFilter, opts backend.QueryOptions) (string, []any, error) {
	var sql strings.Builder
	sql.WriteString("SELECT id, data FROM paros_documents WHERE collection = $1")
	args := []any{collection}

	for _, filter := range filters {
		clause, clauseArgs, err := filterClause(filter, len(args))
		if err != nil {
			return "", nil, err
		}
		sql.WriteString(" AND ")
		sql.WriteString(clause)
		args = append(args, clauseArgs...)
	}

	if opts.OrderBy != "" {
		// data->key keeps jsonb ordering, so numbers sort numerically
		// and strings lexically.
		args = append(args, opts.OrderBy)
		fmt.Fprintf(&sql, " ORDER BY data->$%d", len(args))
		if opts.Direction == backend.Descending {
			sql.WriteString(" DESC")
		}
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sql, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sql, " OFFSET $%d", len(args))
	}
	return sql.String(), args, nil
}

// filterClause renders one filter. used is the number of parameters already
// placed; the clause's own parameters continue from there.
func filterClause(filter backend.QueryFilter, used int) (string, []any, error) {
	if filter.Field == "" {
		return "", nil, errors.Wrap(backend.ErrInvalidQuery, "filter requires a field")
	}
	if !filter.Op.Known() {
		return "", nil, errors.Wrapf(backend.ErrInvalidQuery, "unknown operator %q", filter.Op)
	}

	key := fmt.Sprintf("$%d", used+1)
	val := fmt.Sprintf("$%d", used+2)

	switch filter.Op {
	case backend.OpEqual:
		encoded, err := json.Marshal(filter.Value)
		if err != nil {
			return "", nil, errors.Wrap(err, "filterClause marshal")
		}
		return fmt.Sprintf("data->%s = %s::jsonb", key, val), []any{filter.Field, string(encoded)}, nil

	case backend.OpNotEqual:
		// neq behaves differently from the api backend on documents that
		// lack the field, so it is refused instead of silently diverging.
		return "", nil, &backend.UnsupportedQueryError{Op: filter.Op}

	case backend.OpGreater, backend.OpGreaterEqual, backend.OpLess, backend.OpLessEqual:
		op := sqlComparison[filter.Op]
		switch filter.Value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return fmt.Sprintf("(data->>%s)::numeric %s %s", key, op, val), []any{filter.Field, filter.Value}, nil
		case string:
			return fmt.Sprintf("data->>%s %s %s", key, op, val), []any{filter.Field, filter.Value}, nil
		}
		return "", nil, errors.Wrapf(backend.ErrInvalidQuery, "operator %q requires a numeric or string value", filter.Op)

	case backend.OpIn:
		kind := reflect.ValueOf(filter.Value).Kind()
		if kind != reflect.Slice && kind != reflect.Array {
			return "", nil, errors.Wrap(backend.ErrInvalidQuery, `operator "in" requires an array value`)
		}
		encoded, err := json.Marshal(filter.Value)
		if err != nil {
			return "", nil, errors.Wrap(err, "filterClause marshal")
		}
		return fmt.Sprintf("data->%s <@ %s::jsonb", key, val), []any{filter.Field, string(encoded)}, nil

	case backend.OpArrayContains:
		encoded, err := json.Marshal(filter.Value)
		if err != nil {
			return "", nil, errors.Wrap(err, "filterClause marshal")
		}
		return fmt.Sprintf("data->%s @> %s::jsonb", key, val), []any{filter.Field, string(encoded)}, nil
	}

	return "", nil, &backend.UnsupportedQueryError{Op: filter.Op}
}
