package memengine

import (
	"context"
	"fmt"
	"strconv"

	wire "github.com/akiban/pgwire"
	"github.com/akiban/pgwire/pkg/types"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lib/pq/oid"
	"github.com/shopspring/decimal"
)

// Compiler implements wire.Compiler against a fixed Catalog.
type Compiler struct {
	catalog *Catalog
	types   *pgtype.Map
}

// NewCompiler constructs a Compiler that resolves tables against catalog.
func NewCompiler(catalog *Catalog) *Compiler {
	return &Compiler{catalog: catalog, types: pgtype.NewMap()}
}

var _ wire.Compiler = (*Compiler)(nil)

func (c *Compiler) Compile(ctx context.Context, tree wire.ParseTree, paramOids []uint32) (wire.Statement, error) {
	pt, ok := tree.(*parseTree)
	if !ok {
		return nil, fmt.Errorf("memengine: foreign parse tree %T", tree)
	}

	table, err := c.catalog.Table(pt.table)
	if err != nil {
		return nil, err
	}

	columns, err := resolveColumns(table, pt.columns)
	if err != nil {
		return nil, err
	}

	oids := make([]uint32, 0)
	if pt.where != nil {
		oids = paramOidsForWhere(table, pt.where, paramOids)
	}

	return &statement{
		types:     c.types,
		table:     table,
		columns:   columns,
		where:     pt.where,
		paramOids: oids,
	}, nil
}

// resolveColumns expands "*" against the table's declared column order, or
// resolves an explicit list by name.
func resolveColumns(table *Table, names []string) ([]Column, error) {
	if len(names) == 1 && names[0] == "*" {
		return table.Columns, nil
	}

	columns := make([]Column, 0, len(names))
	for _, name := range names {
		idx := table.columnIndex(name)
		if idx == -1 {
			return nil, fmt.Errorf("memengine: unknown column %q on table %q", name, table.Name)
		}

		columns = append(columns, table.Columns[idx])
	}

	return columns, nil
}

// paramOidsForWhere returns the statement's parameter OIDs, as reported by
// ParameterOids, preferring the client-supplied hints in explicit and
// falling back to the predicate column's own type.
func paramOidsForWhere(table *Table, where *whereClause, explicit []uint32) []uint32 {
	n := where.paramIdx + 1
	oids := make([]uint32, n)

	idx := table.columnIndex(where.column)
	var fallback uint32 = uint32(oid.T_text)
	if idx != -1 {
		fallback = uint32(table.Columns[idx].Oid)
	}

	for i := range oids {
		if i < len(explicit) && explicit[i] != 0 {
			oids[i] = explicit[i]
			continue
		}

		oids[i] = fallback
	}

	return oids
}

// statement is a compiled SELECT against a single in-memory Table.
type statement struct {
	types     *pgtype.Map
	table     *Table
	columns   []Column
	where     *whereClause
	paramOids []uint32
}

var _ wire.Statement = (*statement)(nil)

func (s *statement) ParameterOids() []uint32 { return s.paramOids }

func (s *statement) SendRowDescription(ctx context.Context, fr *wire.Framer, formats []wire.FormatCode) error {
	return writeRowDescription(fr, s.columns, formats)
}

func (s *statement) Execute(ctx context.Context, fr *wire.Framer, session wire.Session, maxRows int32) (int64, error) {
	return executeRows(fr, s.types, s.table, s.columns, nil, maxRows)
}

func (s *statement) GetBoundRequest(ctx context.Context, params [][]byte, resultsBinary []bool, defaultResultsBinary bool) (wire.BoundPortal, error) {
	if defaultResultsBinary || hasBinaryResult(resultsBinary) {
		return nil, fmt.Errorf("memengine: binary result formats are not supported")
	}

	var filter func(row []any) bool
	if s.where != nil {
		if s.where.paramIdx >= len(params) {
			return nil, fmt.Errorf("memengine: WHERE references parameter $%d, only %d bound", s.where.paramIdx+1, len(params))
		}

		idx := s.table.columnIndex(s.where.column)
		if idx == -1 {
			return nil, fmt.Errorf("memengine: unknown column %q on table %q", s.where.column, s.table.Name)
		}

		want := string(params[s.where.paramIdx])
		filter = func(row []any) bool {
			return cellText(row[idx]) == want
		}
	}

	return &boundPortal{
		types:   s.types,
		table:   s.table,
		columns: s.columns,
		filter:  filter,
	}, nil
}

func hasBinaryResult(formats []bool) bool {
	for _, binary := range formats {
		if binary {
			return true
		}
	}

	return false
}

// boundPortal is a statement bound to concrete parameter values.
type boundPortal struct {
	types   *pgtype.Map
	table   *Table
	columns []Column
	filter  func(row []any) bool
}

var _ wire.BoundPortal = (*boundPortal)(nil)

func (p *boundPortal) SendRowDescription(ctx context.Context, fr *wire.Framer) error {
	return writeRowDescription(fr, p.columns, nil)
}

func (p *boundPortal) Execute(ctx context.Context, fr *wire.Framer, session wire.Session, maxRows int32) (int64, error) {
	return executeRows(fr, p.types, p.table, p.columns, p.filter, maxRows)
}

// writeRowDescription writes a RowDescription frame for columns. formats may
// be nil, meaning every column is sent in text format.
func writeRowDescription(fr *wire.Framer, columns []Column, formats []wire.FormatCode) error {
	fr.BeginMessage(types.ServerRowDescription)
	fr.Writer().AddInt16(int16(len(columns)))

	for i, col := range columns {
		fr.Writer().AddString(col.Name)
		fr.Writer().AddNullTerminate()
		fr.Writer().AddInt32(0)  // table OID: unknown to this engine
		fr.Writer().AddInt16(0)  // column attribute number: unknown
		fr.Writer().AddInt32(int32(col.Oid))
		fr.Writer().AddInt16(-1) // type size: variable
		fr.Writer().AddInt32(-1) // type modifier: none
		fr.Writer().AddInt16(int16(formatForColumn(formats, i)))
	}

	return fr.SendMessage()
}

func formatForColumn(formats []wire.FormatCode, i int) wire.FormatCode {
	if len(formats) == 0 {
		return wire.TextFormat
	}

	if i < len(formats) {
		return formats[i]
	}

	return formats[len(formats)-1]
}

// executeRows writes a DataRow frame for every row of table that passes
// filter (nil means every row), honoring maxRows as the extended query
// protocol defines it: <= 0 means unbounded.
func executeRows(fr *wire.Framer, types_ *pgtype.Map, table *Table, columns []Column, filter func(row []any) bool, maxRows int32) (int64, error) {
	var sent int64

	for _, row := range table.Rows {
		if filter != nil && !filter(row) {
			continue
		}

		if maxRows > 0 && sent >= int64(maxRows) {
			break
		}

		if err := writeDataRow(fr, types_, table, columns, row); err != nil {
			return sent, err
		}

		sent++
	}

	return sent, nil
}

func writeDataRow(fr *wire.Framer, m *pgtype.Map, table *Table, columns []Column, row []any) error {
	fr.BeginMessage(types.ServerDataRow)
	fr.Writer().AddInt16(int16(len(columns)))

	for _, col := range columns {
		idx := table.columnIndex(col.Name)
		value := row[idx]

		if value == nil {
			fr.Writer().AddInt32(-1)
			continue
		}

		encoded, err := encodeValue(m, col.Oid, value)
		if err != nil {
			return err
		}

		fr.Writer().AddInt32(int32(len(encoded)))
		fr.Writer().AddBytes(encoded)
	}

	return fr.SendMessage()
}

// encodeValue renders value in Postgres text format for the given column
// OID. decimal.Decimal is handled directly since pgx's codec for NUMERIC
// expects a pgtype.Numeric rather than a shopspring decimal.
func encodeValue(m *pgtype.Map, typeOid oid.Oid, value any) ([]byte, error) {
	if d, ok := value.(decimal.Decimal); ok {
		num := pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
		return m.Encode(uint32(oid.T_numeric), pgtype.TextFormatCode, num, nil)
	}

	return m.Encode(uint32(typeOid), pgtype.TextFormatCode, value, nil)
}

// cellText renders a stored cell value as text for WHERE-clause comparison.
func cellText(value any) string {
	switch v := value.(type) {
	case decimal.Decimal:
		return v.String()
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
