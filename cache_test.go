package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeStatement struct{ Statement }

type fakePortal struct{ BoundPortal }

func TestStatementRegistrySetGetClose(t *testing.T) {
	var reg StatementRegistry

	assert.Nil(t, reg.Get("s1"))

	first := &fakeStatement{}
	reg.Set("s1", first)
	assert.Same(t, first, reg.Get("s1"))

	second := &fakeStatement{}
	reg.Set("s1", second)
	assert.Same(t, second, reg.Get("s1"))
	assert.NotSame(t, first, reg.Get("s1"))

	reg.Close("s1")
	assert.Nil(t, reg.Get("s1"))

	// closing an absent name is a no-op
	reg.Close("does-not-exist")
}

func TestPortalRegistrySetGetClose(t *testing.T) {
	var reg PortalRegistry

	assert.Nil(t, reg.Get("p1"))

	portal := &fakePortal{}
	reg.Set("p1", portal)
	assert.Same(t, portal, reg.Get("p1"))

	reg.Close("p1")
	assert.Nil(t, reg.Get("p1"))

	reg.Close("does-not-exist")
}

func TestRegistriesUseEmptyStringForUnnamed(t *testing.T) {
	var statements StatementRegistry
	unnamed := &fakeStatement{}
	statements.Set("", unnamed)
	assert.Same(t, unnamed, statements.Get(""))

	var portals PortalRegistry
	unnamedPortal := &fakePortal{}
	portals.Set("", unnamedPortal)
	assert.Same(t, unnamedPortal, portals.Get(""))
}
