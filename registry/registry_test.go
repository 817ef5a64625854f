package registry_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assistly/relay/registry"
)

type fakeConn struct {
	id       string
	identity string
	closes   atomic.Int32
}

func newFake(id, identity string) *fakeConn {
	return &fakeConn{id: id, identity: identity}
}

func (f *fakeConn) ID() string                         { return f.id }
func (f *fakeConn) Identity() string                   { return f.identity }
func (f *fakeConn) Send(context.Context, []byte) error { return nil }
func (f *fakeConn) Close() error                       { f.closes.Add(1); return nil }

func TestRegisterLookup(t *testing.T) {
	r := registry.New(nil, nil)
	c := newFake("c1", "A")

	r.Register("A", c)

	got, ok := r.Lookup("A")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 1, r.Len())

	_, ok = r.Lookup("B")
	assert.False(t, ok)
}

func TestRegisterEvictsAndClosesPrevious(t *testing.T) {
	r := registry.New(nil, nil)
	c1 := newFake("c1", "A")
	c2 := newFake("c2", "A")

	r.Register("A", c1)
	r.Register("A", c2)

	got, ok := r.Lookup("A")
	require.True(t, ok)
	assert.Same(t, c2, got)
	assert.Equal(t, 1, r.Len())
	assert.EqualValues(t, 1, c1.closes.Load())
	assert.EqualValues(t, 0, c2.closes.Load())
}

func TestRegisterSameConnIsNoop(t *testing.T) {
	r := registry.New(nil, nil)
	c := newFake("c1", "A")

	r.Register("A", c)
	r.Register("A", c)

	assert.EqualValues(t, 0, c.closes.Load())
	assert.Equal(t, 1, r.Len())
}

func TestUnregisterIdempotent(t *testing.T) {
	r := registry.New(nil, nil)
	r.Register("A", newFake("c1", "A"))

	r.Unregister("A")
	r.Unregister("A")
	r.Unregister("never-registered")

	_, ok := r.Lookup("A")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRemoveOnlyCurrent(t *testing.T) {
	r := registry.New(nil, nil)
	stale := newFake("c1", "A")
	fresh := newFake("c2", "A")

	r.Register("A", stale)
	r.Register("A", fresh)

	assert.False(t, r.Remove("A", stale), "stale connection must not remove its replacement")
	got, ok := r.Lookup("A")
	require.True(t, ok)
	assert.Same(t, fresh, got)

	assert.True(t, r.Remove("A", fresh))
	assert.False(t, r.Remove("A", fresh))
	assert.Equal(t, 0, r.Len())
}

func TestCloseAll(t *testing.T) {
	r := registry.New(nil, nil)
	a := newFake("c1", "A")
	b := newFake("c2", "B")
	r.Register("A", a)
	r.Register("B", b)

	r.CloseAll()

	assert.Equal(t, 0, r.Len())
	assert.EqualValues(t, 1, a.closes.Load())
	assert.EqualValues(t, 1, b.closes.Load())
}

func TestConcurrentAccess(t *testing.T) {
	r := registry.New(nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		identity := fmt.Sprintf("user-%d", i%10)
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			r.Register(identity, newFake(fmt.Sprintf("c%d", i), identity))
		}(i)
		go func() {
			defer wg.Done()
			r.Lookup(identity)
		}()
		go func() {
			defer wg.Done()
			if i%7 == 0 {
				r.Unregister(identity)
			}
			_ = r.Len()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Len(), 10)
	for i := 0; i < 10; i++ {
		identity := fmt.Sprintf("user-%d", i)
		if c, ok := r.Lookup(identity); ok {
			assert.Equal(t, identity, c.Identity())
		}
	}
}
