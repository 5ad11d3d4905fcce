package memengine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/akiban/pgwire"
)

// parseTree is the result of parsing one SQL statement. It implements
// wire.ParseTree.
type parseTree struct {
	sql     string
	isQuery bool

	table    string
	columns  []string // "*" expands at compile time against the table's catalog
	where    *whereClause
}

// whereClause supports exactly one equality predicate against a bind
// parameter: "WHERE <column> = $<n>". This mirrors the intentionally narrow
// scope of the teacher's own example handlers.
type whereClause struct {
	column   string
	paramIdx int // zero-based index into the parameter list
}

func (t *parseTree) IsSelect() bool { return t.isQuery }

// Parser implements wire.Parser over a small illustrative SQL subset:
//
//	SELECT <col> [, <col> ...] FROM <table> [WHERE <col> = $<n>]
//
// This is deliberately not a general SQL grammar: memengine exists to give
// the protocol core something real to drive end to end, not to be a SQL
// engine in its own right.
type Parser struct{}

// NewParser constructs a Parser.
func NewParser() *Parser { return &Parser{} }

var _ wire.Parser = (*Parser)(nil)

func (p *Parser) Parse(ctx context.Context, sql string) ([]wire.ParseTree, error) {
	trees := make([]wire.ParseTree, 0, 1)

	for _, stmt := range splitStatements(sql) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}

		tree, err := parseOne(stmt)
		if err != nil {
			return nil, err
		}

		trees = append(trees, tree)
	}

	return trees, nil
}

func splitStatements(sql string) []string {
	return strings.Split(sql, ";")
}

func parseOne(sql string) (*parseTree, error) {
	fields := tokenize(sql)
	if len(fields) == 0 {
		return nil, fmt.Errorf("memengine: empty statement")
	}

	if !strings.EqualFold(fields[0], "select") {
		// Non-SELECT statements parse successfully but are flagged as not a
		// cursor node; the connection layer rejects them via errNotSelect.
		return &parseTree{sql: sql, isQuery: false}, nil
	}

	fromIdx := indexOfKeyword(fields, "from")
	if fromIdx == -1 {
		return nil, fmt.Errorf("memengine: SELECT without FROM: %q", sql)
	}

	colList := strings.Join(fields[1:fromIdx], " ")
	columns := splitColumns(colList)

	rest := fields[fromIdx+1:]
	if len(rest) == 0 {
		return nil, fmt.Errorf("memengine: FROM without table name: %q", sql)
	}

	table := strings.Trim(rest[0], `"`)
	tree := &parseTree{sql: sql, isQuery: true, table: table, columns: columns}

	whereIdx := indexOfKeyword(rest, "where")
	if whereIdx == -1 {
		return tree, nil
	}

	where, err := parseWhere(rest[whereIdx+1:])
	if err != nil {
		return nil, err
	}

	tree.where = where
	return tree, nil
}

func tokenize(sql string) []string {
	return strings.Fields(sql)
}

func indexOfKeyword(fields []string, keyword string) int {
	for i, f := range fields {
		if strings.EqualFold(f, keyword) {
			return i
		}
	}
	return -1
}

func splitColumns(list string) []string {
	list = strings.TrimSpace(list)
	if list == "" || list == "*" {
		return []string{"*"}
	}

	parts := strings.Split(list, ",")
	columns := make([]string, 0, len(parts))
	for _, p := range parts {
		columns = append(columns, strings.TrimSpace(p))
	}

	return columns
}

func parseWhere(fields []string) (*whereClause, error) {
	if len(fields) < 3 || fields[1] != "=" {
		return nil, fmt.Errorf("memengine: unsupported WHERE clause: %q", strings.Join(fields, " "))
	}

	column := fields[0]
	param := fields[2]

	if !strings.HasPrefix(param, "$") {
		return nil, fmt.Errorf("memengine: WHERE predicate must bind a parameter, got %q", param)
	}

	n, err := strconv.Atoi(strings.TrimPrefix(param, "$"))
	if err != nil || n < 1 {
		return nil, fmt.Errorf("memengine: invalid parameter placeholder %q", param)
	}

	return &whereClause{column: column, paramIdx: n - 1}, nil
}
