// Package memengine is a small in-memory reference implementation of the
// wire package's Parser/Compiler/Statement/SchemaProvider collaborators. It
// plays the same role the teacher's examples/simple and examples/numeric
// handlers play: illustrative and swappable, not part of the protocol core.
package memengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/lib/pq/oid"
)

// Column describes one result column of a Table.
type Column struct {
	Name string
	Oid  oid.Oid
}

// Table is a named, ordered set of rows held entirely in memory. Values in a
// row must be assignable to the corresponding Column's type: string for
// T_text/T_varchar, int64/int32 for T_int4/T_int8, bool for T_bool,
// decimal.Decimal for T_numeric.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]any
}

func (t *Table) columnIndex(name string) int {
	for i, col := range t.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// Catalog is a registry of Tables addressed by name, shared by every
// connection built from the same SessionFactory.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{tables: make(map[string]*Table)}
}

// Register adds or replaces a table in the catalog.
func (c *Catalog) Register(t *Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[t.Name] = t
}

// Table returns the named table, or an error if it is not registered.
func (c *Catalog) Table(name string) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("memengine: unknown table %q", name)
	}

	return t, nil
}

// Schema implements wire.SchemaProvider: the in-memory catalog does not
// distinguish between databases, so database is accepted but ignored.
func (c *Catalog) Schema(ctx context.Context, database string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}

	return names, nil
}
