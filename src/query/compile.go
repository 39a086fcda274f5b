// Package query compiles validated filter specs into parameterized SQL.
// Every user-supplied value is bound as a placeholder argument and every
// identifier passes through pgx sanitization, so filter content can never
// alter the predicate structure.
package query

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/fiscaldata/treasury-query/src/filter"
	"github.com/fiscaldata/treasury-query/src/schema"
)

// SortDir is the requested ORDER BY direction.
type SortDir string

const (
	SortAsc  SortDir = "ASC"
	SortDesc SortDir = "DESC"
)

// PageRequest selects one window of a filtered result set. Page is
// zero-based. SortColumn, when set, must be a sortable column of the target
// table.
type PageRequest struct {
	Page       int
	PageSize   int
	SortColumn string
	SortDir    SortDir
}

// Statement is a compiled query pair sharing one argument list. CountSQL
// wraps the predicate set in COUNT(*); PageSQL adds ordering and the
// LIMIT/OFFSET window.
type Statement struct {
	CountSQL string
	PageSQL  string
	Args     []any
}

// CompileError reports an internal invariant violation, such as an
// unsortable column reaching the compiler. It indicates a defect in the
// calling layer, not bad user input.
type CompileError struct {
	Reason string
}

func (e *CompileError) Error() string {
	return "query compile: " + e.Reason
}

// MaxPageOffset bounds the LIMIT/OFFSET window. The tables top out far below
// this; anything deeper is a runaway page counter, and unchecked it would
// overflow the offset arithmetic.
const MaxPageOffset = 1 << 31

// Compile builds the count and page statements for one filtered page.
func Compile(desc *schema.TableDescriptor, spec *filter.FilterSpec, page PageRequest) (*Statement, error) {
	if page.Page < 0 || page.PageSize <= 0 || int64(page.Page) > MaxPageOffset/int64(page.PageSize) {
		return nil, &CompileError{Reason: fmt.Sprintf("page request out of range: page=%d pageSize=%d", page.Page, page.PageSize)}
	}

	where, args, err := compilePredicates(desc, spec)
	if err != nil {
		return nil, err
	}

	order, err := compileOrder(desc, page)
	if err != nil {
		return nil, err
	}

	table := sanitize(desc.Name)
	pageSQL := fmt.Sprintf("SELECT %s FROM %s%s%s LIMIT %d OFFSET %d",
		columnList(desc), table, where, order, page.PageSize, int64(page.Page)*int64(page.PageSize))
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, where)

	return &Statement{CountSQL: countSQL, PageSQL: pageSQL, Args: args}, nil
}

// CompileCount builds only the count form of the predicate set.
func CompileCount(desc *schema.TableDescriptor, spec *filter.FilterSpec) (string, []any, error) {
	where, args, err := compilePredicates(desc, spec)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", sanitize(desc.Name), where), args, nil
}

// CompileSampleCount builds a count restricted to the key range up to
// ceiling, used to probe filter selectivity on very large tables. The
// ceiling is appended to the returned args.
func CompileSampleCount(desc *schema.TableDescriptor, spec *filter.FilterSpec, ceiling int64) (string, []any, error) {
	where, args, err := compilePredicates(desc, spec)
	if err != nil {
		return "", nil, err
	}
	key := sanitize(desc.KeyColumn)
	joiner := " WHERE "
	if where != "" {
		joiner = " AND "
	}
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s%s%s%s <= $%d",
		sanitize(desc.Name), where, joiner, key, len(args)+1)
	return sql, append(args, ceiling), nil
}

// CompileExport builds the keyset batch form used by the exporter:
// rows after the last seen key, in key order, one batch at a time. The
// caller appends the last seen key value as the final argument on every
// batch; the returned args cover only the filter predicates.
func CompileExport(desc *schema.TableDescriptor, spec *filter.FilterSpec, batchSize int) (string, []any, error) {
	if batchSize <= 0 {
		return "", nil, &CompileError{Reason: fmt.Sprintf("batch size out of range: %d", batchSize)}
	}
	where, args, err := compilePredicates(desc, spec)
	if err != nil {
		return "", nil, err
	}
	key := sanitize(desc.KeyColumn)
	joiner := " WHERE "
	if where != "" {
		joiner = " AND "
	}
	sql := fmt.Sprintf("SELECT %s FROM %s%s%s%s > $%d ORDER BY %s ASC LIMIT %d",
		columnList(desc), sanitize(desc.Name), where, joiner, key, len(args)+1, key, batchSize)
	return sql, args, nil
}

// CompileDistinct builds the option list query for one enum column.
func CompileDistinct(desc *schema.TableDescriptor, column string) (string, error) {
	col, ok := desc.Column(column)
	if !ok {
		return "", &CompileError{Reason: fmt.Sprintf("unknown column %q in table %q", column, desc.Name)}
	}
	if !col.Filterable || col.Match != schema.MatchEnum {
		return "", &CompileError{Reason: fmt.Sprintf("column %q does not expose an option list", column)}
	}
	ident := sanitize(column)
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL AND %s <> '' ORDER BY %s",
		ident, sanitize(desc.Name), ident, ident, ident), nil
}

// compilePredicates renders the WHERE clause and its bound arguments.
// Predicates combine with AND; an empty spec yields an empty clause.
func compilePredicates(desc *schema.TableDescriptor, spec *filter.FilterSpec) (string, []any, error) {
	if spec.Table != desc.Name {
		return "", nil, &CompileError{Reason: fmt.Sprintf("filter spec targets %q, compiling for %q", spec.Table, desc.Name)}
	}
	if spec.Empty() {
		return "", nil, nil
	}

	conds := make([]string, 0, len(spec.Predicates))
	args := make([]any, 0, len(spec.Predicates)*2)

	for _, p := range spec.Predicates {
		col, ok := desc.Column(p.Column)
		if !ok || !col.Filterable {
			return "", nil, &CompileError{Reason: fmt.Sprintf("predicate on unknown or non-filterable column %q", p.Column)}
		}
		ident := sanitize(p.Column)

		switch p.Mode {
		case schema.MatchRange:
			conds = append(conds, fmt.Sprintf("%s BETWEEN $%d AND $%d", ident, len(args)+1, len(args)+2))
			args = append(args, p.Low, p.High)
		case schema.MatchSubstring:
			conds = append(conds, fmt.Sprintf("lower(%s) LIKE lower($%d)", ident, len(args)+1))
			args = append(args, "%"+p.Term+"%")
		case schema.MatchEnum:
			conds = append(conds, fmt.Sprintf("lower(%s) = lower($%d)", ident, len(args)+1))
			args = append(args, p.Value)
		default:
			return "", nil, &CompileError{Reason: fmt.Sprintf("unknown match mode %q on column %q", p.Mode, p.Column)}
		}
	}

	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// compileOrder renders the ORDER BY clause. Pagination windows are only
// deterministic under a total order, so the key column always appears as
// the final sort term.
func compileOrder(desc *schema.TableDescriptor, page PageRequest) (string, error) {
	key := sanitize(desc.KeyColumn)
	if page.SortColumn == "" {
		return fmt.Sprintf(" ORDER BY %s ASC", key), nil
	}

	if !desc.Sortable(page.SortColumn) {
		return "", &CompileError{Reason: fmt.Sprintf("column %q is not sortable in table %q", page.SortColumn, desc.Name)}
	}
	dir := page.SortDir
	if dir == "" {
		dir = SortAsc
	}
	if dir != SortAsc && dir != SortDesc {
		return "", &CompileError{Reason: fmt.Sprintf("invalid sort direction %q", page.SortDir)}
	}
	if page.SortColumn == desc.KeyColumn {
		return fmt.Sprintf(" ORDER BY %s %s", key, dir), nil
	}
	return fmt.Sprintf(" ORDER BY %s %s, %s ASC", sanitize(page.SortColumn), dir, key), nil
}

func columnList(desc *schema.TableDescriptor) string {
	names := desc.ColumnNames()
	idents := make([]string, len(names))
	for i, n := range names {
		idents[i] = sanitize(n)
	}
	return strings.Join(idents, ", ")
}

func sanitize(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}
