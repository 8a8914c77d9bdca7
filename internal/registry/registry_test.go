package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-dispatch/internal/logging"
	"github.com/example/delivery-dispatch/internal/models"
)

type fakeConn struct {
	mu         sync.Mutex
	frames     []interface{}
	closed     bool
	failWrites bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failWrites {
		return errors.New("write failed")
	}
	c.frames = append(c.frames, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interface{}, len(c.frames))
	copy(out, c.frames)
	return out
}

func TestRegisterBindLookup(t *testing.T) {
	r := New(logging.NewNop())
	c := &fakeConn{}
	id := r.Register(c)
	require.NotEmpty(t, id)

	role, identity, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, models.RoleUnauthenticated, role)
	assert.Empty(t, identity)

	_, ok = r.Bind(id, models.RoleRider, "r1")
	require.True(t, ok)

	role, identity, ok = r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, models.RoleRider, role)
	assert.Equal(t, "r1", identity)
	assert.Equal(t, 1, r.Len())
}

func TestBindUnknownConnection(t *testing.T) {
	r := New(logging.NewNop())
	_, ok := r.Bind("nope", models.RoleRider, "r1")
	assert.False(t, ok)
}

func TestBindLastConnectionWins(t *testing.T) {
	r := New(logging.NewNop())
	c1 := &fakeConn{}
	c2 := &fakeConn{}
	id1 := r.Register(c1)
	id2 := r.Register(c2)

	_, ok := r.Bind(id1, models.RoleRider, "r1")
	require.True(t, ok)
	evicted, ok := r.Bind(id2, models.RoleRider, "r1")
	require.True(t, ok)
	assert.Equal(t, id1, evicted)
	assert.True(t, c1.closed)
	assert.Equal(t, 1, r.Len())

	r.Send("r1", "hello")
	assert.Empty(t, c1.received())
	require.Len(t, c2.received(), 1)
	assert.Equal(t, "hello", c2.received()[0])

	// the evicted connection's close callback finds nothing to clean up
	_, _, ok = r.Unregister(id1)
	assert.False(t, ok)
}

func TestRebindReleasesOldIdentity(t *testing.T) {
	r := New(logging.NewNop())
	c := &fakeConn{}
	id := r.Register(c)

	_, ok := r.Bind(id, models.RoleRider, "r1")
	require.True(t, ok)
	_, ok = r.Bind(id, models.RoleRider, "r2")
	require.True(t, ok)

	// frames addressed to the old identity must not reach the socket
	r.Send("r1", "stale")
	assert.Empty(t, c.received())
	r.Send("r2", "fresh")
	require.Len(t, c.received(), 1)

	// a sweep of the old identity must not tear down the live connection
	assert.False(t, r.EvictIdentity("r1"))
	assert.False(t, c.closed)
	assert.Equal(t, 1, r.Len())

	// unregister reports the current identity
	_, identity, ok := r.Unregister(id)
	require.True(t, ok)
	assert.Equal(t, "r2", identity)
}

func TestUnregisterReturnsBoundIdentity(t *testing.T) {
	r := New(logging.NewNop())
	id := r.Register(&fakeConn{})
	_, ok := r.Bind(id, models.RoleRider, "r1")
	require.True(t, ok)

	role, identity, ok := r.Unregister(id)
	require.True(t, ok)
	assert.Equal(t, models.RoleRider, role)
	assert.Equal(t, "r1", identity)
	assert.Equal(t, 0, r.Len())
}

func TestSendToAbsentIdentityIsNoop(t *testing.T) {
	r := New(logging.NewNop())
	// must not panic or error
	r.Send("ghost", "hello")
}

func TestBroadcastMatchesRoleOnly(t *testing.T) {
	r := New(logging.NewNop())
	riderA := &fakeConn{}
	adminB := &fakeConn{}
	riderC := &fakeConn{}
	idA := r.Register(riderA)
	idB := r.Register(adminB)
	idC := r.Register(riderC)
	r.Bind(idA, models.RoleRider, "A")
	r.Bind(idB, models.RoleAdmin, "B")
	r.Bind(idC, models.RoleRider, "C")

	r.Broadcast(Admins, "admin-only")

	assert.Empty(t, riderA.received())
	assert.Empty(t, riderC.received())
	require.Len(t, adminB.received(), 1)
	assert.Equal(t, "admin-only", adminB.received()[0])

	r.Broadcast(Everyone, "all")
	assert.Len(t, riderA.received(), 1)
	assert.Len(t, adminB.received(), 2)
	assert.Len(t, riderC.received(), 1)
}

func TestBroadcastContinuesPastWriteFailure(t *testing.T) {
	r := New(logging.NewNop())
	broken := &fakeConn{failWrites: true}
	healthy := &fakeConn{}
	idBroken := r.Register(broken)
	idHealthy := r.Register(healthy)
	r.Bind(idBroken, models.RoleAdmin, "a1")
	r.Bind(idHealthy, models.RoleAdmin, "a2")

	r.Broadcast(Admins, "event")

	require.Len(t, healthy.received(), 1)
}

func TestEvictIdentity(t *testing.T) {
	r := New(logging.NewNop())
	c := &fakeConn{}
	id := r.Register(c)
	r.Bind(id, models.RoleRider, "r1")

	assert.True(t, r.EvictIdentity("r1"))
	assert.True(t, c.closed)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.EvictIdentity("r1"))
}
