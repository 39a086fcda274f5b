package query

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscaldata/treasury-query/src/filter"
	"github.com/fiscaldata/treasury-query/src/schema"
)

func mustBuild(t *testing.T, table string, raw map[string]string) (*schema.TableDescriptor, *filter.FilterSpec) {
	t.Helper()
	desc, err := schema.Describe(table)
	require.NoError(t, err)
	spec, err := filter.Build(table, raw)
	require.NoError(t, err)
	return desc, spec
}

func TestCompileCountForm(t *testing.T) {
	desc, spec := mustBuild(t, schema.TablePayments, map[string]string{
		"fiscal_year_start": "2020",
		"fiscal_year_end":   "2022",
	})

	st, err := Compile(desc, spec, PageRequest{Page: 0, PageSize: 150})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT COUNT(*) FROM "paymentinformation" WHERE "fiscal_year" BETWEEN $1 AND $2`,
		st.CountSQL,
	)
	assert.Equal(t, []any{int64(2020), int64(2022)}, st.Args)
	assert.NotContains(t, st.CountSQL, "ORDER BY")
	assert.NotContains(t, st.CountSQL, "LIMIT")
}

func TestCompilePageForm(t *testing.T) {
	desc, spec := mustBuild(t, schema.TablePayments, map[string]string{
		"fiscal_year":  "2020",
		"vendor_name":  "acme",
		"agency_title": "Texas Education Agency",
	})

	st, err := Compile(desc, spec, PageRequest{Page: 2, PageSize: 150})
	require.NoError(t, err)

	// Predicates combine with AND in column order and share one arg list.
	assert.Contains(t, st.PageSQL,
		`WHERE lower("agency_title") = lower($1) AND "fiscal_year" BETWEEN $2 AND $3 AND lower("vendor_name") LIKE lower($4)`,
	)
	assert.Equal(t, []any{"Texas Education Agency", int64(2020), int64(2020), "%acme%"}, st.Args)

	assert.Contains(t, st.PageSQL, `FROM "paymentinformation"`)
	assert.Contains(t, st.PageSQL, `ORDER BY "id" ASC`)
	assert.True(t, strings.HasSuffix(st.PageSQL, "LIMIT 150 OFFSET 300"), st.PageSQL)

	// The page form selects the descriptor's columns in declaration order.
	cols := desc.ColumnNames()
	first := strings.Index(st.PageSQL, `"`+cols[0]+`"`)
	last := strings.Index(st.PageSQL, `"`+cols[len(cols)-1]+`"`)
	assert.True(t, first >= 0 && last > first)
}

func TestCompileNoFiltersHasNoWhere(t *testing.T) {
	desc, spec := mustBuild(t, schema.TableContracts, nil)

	st, err := Compile(desc, spec, PageRequest{Page: 0, PageSize: 50})
	require.NoError(t, err)
	assert.NotContains(t, st.PageSQL, "WHERE")
	assert.Equal(t, `SELECT COUNT(*) FROM "contractinfo"`, st.CountSQL)
	assert.Empty(t, st.Args)
	assert.True(t, strings.HasSuffix(st.PageSQL, "LIMIT 50 OFFSET 0"), st.PageSQL)
}

func TestCompileSortAppendsKeyTiebreak(t *testing.T) {
	desc, spec := mustBuild(t, schema.TablePayments, nil)

	st, err := Compile(desc, spec, PageRequest{Page: 0, PageSize: 10, SortColumn: "vendor_name", SortDir: SortDesc})
	require.NoError(t, err)
	assert.Contains(t, st.PageSQL, `ORDER BY "vendor_name" DESC, "id" ASC`)

	// Sorting on the key column itself needs no tiebreak.
	st, err = Compile(desc, spec, PageRequest{Page: 0, PageSize: 10, SortColumn: "id", SortDir: SortDesc})
	require.NoError(t, err)
	assert.Contains(t, st.PageSQL, `ORDER BY "id" DESC`)
	assert.NotContains(t, st.PageSQL, `DESC, "id" ASC`)

	// Direction defaults to ascending.
	st, err = Compile(desc, spec, PageRequest{Page: 0, PageSize: 10, SortColumn: "fiscal_year"})
	require.NoError(t, err)
	assert.Contains(t, st.PageSQL, `ORDER BY "fiscal_year" ASC, "id" ASC`)
}

func TestCompileDefects(t *testing.T) {
	desc, spec := mustBuild(t, schema.TablePayments, nil)

	tests := []struct {
		name string
		page PageRequest
	}{
		{"unsortable column", PageRequest{Page: 0, PageSize: 10, SortColumn: "appropriation_title"}},
		{"unknown sort column", PageRequest{Page: 0, PageSize: 10, SortColumn: "salary"}},
		{"invalid direction", PageRequest{Page: 0, PageSize: 10, SortColumn: "id", SortDir: "SIDEWAYS"}},
		{"negative page", PageRequest{Page: -1, PageSize: 10}},
		{"zero page size", PageRequest{Page: 0, PageSize: 0}},
		{"page window too deep", PageRequest{Page: math.MaxInt, PageSize: 10}},
		{"page window past offset bound", PageRequest{Page: MaxPageOffset/10 + 1, PageSize: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(desc, spec, tt.page)
			require.Error(t, err)
			var ce *CompileError
			assert.True(t, errors.As(err, &ce), "expected CompileError, got %T", err)
		})
	}

	t.Run("table mismatch", func(t *testing.T) {
		other, err := schema.Describe(schema.TableContracts)
		require.NoError(t, err)
		_, err = Compile(other, spec, PageRequest{Page: 0, PageSize: 10})
		require.Error(t, err)
		var ce *CompileError
		assert.True(t, errors.As(err, &ce))
	})
}

func TestCompileDeepPageWithinBound(t *testing.T) {
	desc, spec := mustBuild(t, schema.TablePayments, nil)

	st, err := Compile(desc, spec, PageRequest{Page: MaxPageOffset / 10, PageSize: 10})
	require.NoError(t, err)
	assert.Contains(t, st.PageSQL, fmt.Sprintf("OFFSET %d", int64(MaxPageOffset/10)*10))
}

func TestCompileInjectionStaysInArgs(t *testing.T) {
	hostile := `' OR '1'='1`
	desc, spec := mustBuild(t, schema.TablePayments, map[string]string{"vendor_name": hostile})

	st, err := Compile(desc, spec, PageRequest{Page: 0, PageSize: 10})
	require.NoError(t, err)

	assert.NotContains(t, st.PageSQL, "1'='1")
	assert.NotContains(t, st.CountSQL, "1'='1")
	require.Len(t, st.Args, 1)
	assert.Equal(t, "%"+hostile+"%", st.Args[0])
	assert.Contains(t, st.PageSQL, `lower("vendor_name") LIKE lower($1)`)
}

func TestCompileCount(t *testing.T) {
	desc, spec := mustBuild(t, schema.TableContracts, map[string]string{"status": "Active"})

	sql, args, err := CompileCount(desc, spec)
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "contractinfo" WHERE lower("status") = lower($1)`, sql)
	assert.Equal(t, []any{"Active"}, args)
}

func TestCompileSampleCount(t *testing.T) {
	desc, spec := mustBuild(t, schema.TablePayments, map[string]string{"fiscal_year": "2020"})

	sql, args, err := CompileSampleCount(desc, spec, 100000)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT COUNT(*) FROM "paymentinformation" WHERE "fiscal_year" BETWEEN $1 AND $2 AND "id" <= $3`,
		sql,
	)
	assert.Equal(t, []any{int64(2020), int64(2020), int64(100000)}, args)

	// Without predicates the key bound opens the WHERE clause.
	_, empty := mustBuild(t, schema.TablePayments, nil)
	sql, args, err = CompileSampleCount(desc, empty, 500)
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "paymentinformation" WHERE "id" <= $1`, sql)
	assert.Equal(t, []any{int64(500)}, args)
}

func TestCompileExportKeysetForm(t *testing.T) {
	desc, spec := mustBuild(t, schema.TablePayments, map[string]string{"fiscal_year": "2020"})

	sql, args, err := CompileExport(desc, spec, 10000)
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE "fiscal_year" BETWEEN $1 AND $2 AND "id" > $3`)
	assert.True(t, strings.HasSuffix(sql, `ORDER BY "id" ASC LIMIT 10000`), sql)
	// The last seen key is appended by the caller, not part of the compiled args.
	assert.Equal(t, []any{int64(2020), int64(2020)}, args)

	_, empty := mustBuild(t, schema.TablePayments, nil)
	sql, args, err = CompileExport(desc, empty, 100)
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE "id" > $1`)
	assert.Empty(t, args)

	_, _, err = CompileExport(desc, spec, 0)
	require.Error(t, err)
	var ce *CompileError
	assert.True(t, errors.As(err, &ce))
}

func TestCompileDistinct(t *testing.T) {
	desc, err := schema.Describe(schema.TableContracts)
	require.NoError(t, err)

	sql, err := CompileDistinct(desc, "procurement_method")
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT DISTINCT "procurement_method" FROM "contractinfo" WHERE "procurement_method" IS NOT NULL AND "procurement_method" <> '' ORDER BY "procurement_method"`,
		sql,
	)

	for _, column := range []string{"vendor_name", "start_date", "missing"} {
		_, err := CompileDistinct(desc, column)
		require.Error(t, err, fmt.Sprintf("column %s must not expose options", column))
		var ce *CompileError
		assert.True(t, errors.As(err, &ce))
	}
}
