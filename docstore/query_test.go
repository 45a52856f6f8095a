package docstore

import (
	"testing"

	"github.com/parosapp/paros-go/backend"
	"github.com/stretchr/testify/require"
)

func TestBuildDocumentQueryBareCollection(t *testing.T) {
	sql, args, err := buildDocumentQuery("listings", nil, backend.QueryOptions{})

	require.NoError(t, err)
	require.Equal(t, "SELECT id, data FROM paros_documents WHERE collection = $1", sql)
	require.Equal(t, []any{"listings"}, args)
}

func TestBuildDocumentQueryCombinesFiltersAndOptions(t *testing.T) {
	filters := []backend.QueryFilter{
		{Field: "city", Op: backend.OpEqual, Value: "pune"},
		{Field: "rent", Op: backend.OpLessEqual, Value: 20000},
	}
	opts := backend.QueryOptions{
		OrderBy:   "rent",
		Direction: backend.Descending,
		Limit:     10,
		Offset:    20,
	}

	sql, args, err := buildDocumentQuery("listings", filters, opts)

	require.NoError(t, err)
	require.Equal(t,
		"SELECT id, data FROM paros_documents WHERE collection = $1"+
			" AND data->$2 = $3::jsonb"+
			" AND (data->>$4)::numeric <= $5"+
			" ORDER BY data->$6 DESC LIMIT $7 OFFSET $8",
		sql)
	require.Equal(t, []any{"listings", "city", `"pune"`, "rent", 20000, "rent", 10, 20}, args)
}

func TestBuildDocumentQueryAscendingOmitsDesc(t *testing.T) {
	sql, args, err := buildDocumentQuery("listings", nil, backend.QueryOptions{OrderBy: "createdAt"})

	require.NoError(t, err)
	require.Equal(t, "SELECT id, data FROM paros_documents WHERE collection = $1 ORDER BY data->$2", sql)
	require.Equal(t, []any{"listings", "createdAt"}, args)
}

func TestFilterClauseEqualEncodesValueAsJSON(t *testing.T) {
	clause, args, err := filterClause(backend.QueryFilter{Field: "furnished", Op: backend.OpEqual, Value: true}, 1)

	require.NoError(t, err)
	require.Equal(t, "data->$2 = $3::jsonb", clause)
	require.Equal(t, []any{"furnished", "true"}, args)
}

func TestFilterClauseNotEqualIsUnsupported(t *testing.T) {
	_, _, err := buildDocumentQuery("listings", []backend.QueryFilter{
		{Field: "city", Op: backend.OpNotEqual, Value: "pune"},
	}, backend.QueryOptions{})

	var unsupported *backend.UnsupportedQueryError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, backend.OpNotEqual, unsupported.Op)
}

func TestFilterClauseComparesStringsAsText(t *testing.T) {
	clause, args, err := filterClause(backend.QueryFilter{Field: "createdAt", Op: backend.OpGreater, Value: "2026-01-01"}, 1)

	require.NoError(t, err)
	require.Equal(t, "data->>$2 > $3", clause)
	require.Equal(t, []any{"createdAt", "2026-01-01"}, args)
}

func TestFilterClauseComparisonRejectsOtherTypes(t *testing.T) {
	_, _, err := filterClause(backend.QueryFilter{Field: "rent", Op: backend.OpGreaterEqual, Value: true}, 1)

	require.ErrorIs(t, err, backend.ErrInvalidQuery)
}

func TestFilterClauseInRequiresArrayValue(t *testing.T) {
	_, _, err := filterClause(backend.QueryFilter{Field: "city", Op: backend.OpIn, Value: "pune"}, 1)

	require.ErrorIs(t, err, backend.ErrInvalidQuery)
}

func TestFilterClauseInUsesContainment(t *testing.T) {
	clause, args, err := filterClause(backend.QueryFilter{Field: "city", Op: backend.OpIn, Value: []string{"pune", "mumbai"}}, 1)

	require.NoError(t, err)
	require.Equal(t, "data->$2 <@ $3::jsonb", clause)
	require.Equal(t, []any{"city", `["pune","mumbai"]`}, args)
}

func TestFilterClauseArrayContains(t *testing.T) {
	clause, args, err := filterClause(backend.QueryFilter{Field: "amenities", Op: backend.OpArrayContains, Value: "gym"}, 3)

	require.NoError(t, err)
	require.Equal(t, "data->$4 @> $5::jsonb", clause)
	require.Equal(t, []any{"amenities", `"gym"`}, args)
}

func TestFilterClauseRejectsEmptyField(t *testing.T) {
	_, _, err := filterClause(backend.QueryFilter{Op: backend.OpEqual, Value: 1}, 1)

	require.ErrorIs(t, err, backend.ErrInvalidQuery)
}

func TestFilterClauseRejectsUnknownOperator(t *testing.T) {
	_, _, err := filterClause(backend.QueryFilter{Field: "city", Op: backend.Operator("like"), Value: "pu%"}, 1)

	require.ErrorIs(t, err, backend.ErrInvalidQuery)
}
