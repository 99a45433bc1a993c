// Package conntable implements the TCP connection table and UDP session
// table of spec.md sections 4.3 and 4.4, plus the bounded LRU eviction
// policy of section 4.5 shared by both.
//
// Grounded on the teacher's internal/bfd/manager.go, which keeps a primary
// map keyed by session discriminator alongside a secondary
// sessionsByPeer map and guards both with one mutex so the two indexes
// never drift apart; the same shape is used here for the local/remote and
// client-address/remote-handle secondary lookups, backed by an
// internal/lru.Index for the aging/eviction half of the contract.
package conntable

import (
	"sync"

	"github.com/vanenet/portmapd/internal/handle"
	"github.com/vanenet/portmapd/internal/lru"
	"github.com/vanenet/portmapd/internal/netaddr"
	"github.com/vanenet/portmapd/internal/stats"
)

// EvictionPolicy holds the section 4.5 bounded-eviction tunables.
type EvictionPolicy struct {
	Disabled bool
	Ratio    int
	Floor    int
	Timeout  int64 // seconds
}

// clampedBudget computes k = size/ratio + floor, clamped to size.
func (p EvictionPolicy) clampedBudget(size int) int {
	ratio := p.Ratio
	if ratio <= 0 {
		ratio = 1
	}
	k := size/ratio + p.Floor
	if k > size {
		k = size
	}
	if k < 0 {
		k = 0
	}
	return k
}

// TCPConnection is the per-flow state record of spec.md section 2's "TCP
// connection record": local/remote endpoints, the printable client
// address for logging, timestamps, and the remote-connecting flag that
// tracks an in-flight non-blocking connect.
type TCPConnection struct {
	Local            handle.Handle
	Remote           handle.Handle
	ClientAddr       string
	Created          int64
	LastActive       int64
	RemoteConnecting bool

	// ToRemote buffers bytes read from the local side awaiting send to
	// the remote side; ToLocal is the mirror image. Each is strictly
	// FIFO: filled at Begin+Pending, drained from Begin (spec.md
	// section 5, ordering guarantees).
	ToRemote FlowBuffer
	ToLocal  FlowBuffer
}

// FlowBuffer is one direction's in-flight byte buffer for a TCP flow.
type FlowBuffer struct {
	Data    []byte
	Begin   int
	Pending int
}

// Pend returns the slice of bytes currently awaiting delivery.
func (b *FlowBuffer) Pend() []byte {
	return b.Data[b.Begin : b.Begin+b.Pending]
}

// Advance records that n bytes were successfully sent, compacting the
// buffer back to offset 0 once it is fully drained.
func (b *FlowBuffer) Advance(n int) {
	b.Begin += n
	b.Pending -= n
	if b.Pending == 0 {
		b.Begin = 0
	}
}

// Fill appends freshly-received bytes to the buffer, compacting first if
// the tail doesn't fit.
func (b *FlowBuffer) Fill(p []byte) {
	if b.Begin+b.Pending+len(p) > len(b.Data) {
		copy(b.Data, b.Pend())
		b.Begin = 0
	}
	copy(b.Data[b.Begin+b.Pending:], p)
	b.Pending += len(p)
}

// TCPTable is the connection table of spec.md section 4.3: primary index
// by local handle, secondary index by remote handle, both consistent
// under a single lock, with aging delegated to an LRU index keyed by
// local handle.
type TCPTable struct {
	mu        sync.RWMutex
	byLocal   map[handle.Handle]*TCPConnection
	byRemote  map[handle.Handle]handle.Handle // remote -> local
	active    *lru.Index[handle.Handle, struct{}]
	policy    EvictionPolicy
	lastSweep int64
	stats     *stats.Counters
}

// NewTCPTable constructs an empty TCP connection table.
func NewTCPTable(policy EvictionPolicy, counters *stats.Counters) *TCPTable {
	return &TCPTable{
		byLocal:  make(map[handle.Handle]*TCPConnection),
		byRemote: make(map[handle.Handle]handle.Handle),
		active:   lru.New[handle.Handle, struct{}](),
		policy:   policy,
		stats:    counters,
	}
}

// NewConnection inserts a new connection record, registers it under the
// LRU index keyed by local handle, and increments the tcp-population
// gauge (spec.md section 4.3).
func (t *TCPTable) NewConnection(localH, remoteH handle.Handle, clientAddr string, now int64, bufSize int, remoteConnecting bool) *TCPConnection {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn := &TCPConnection{
		Local:            localH,
		Remote:           remoteH,
		ClientAddr:       clientAddr,
		Created:          now,
		LastActive:       now,
		RemoteConnecting: remoteConnecting,
		ToRemote:         FlowBuffer{Data: make([]byte, bufSize)},
		ToLocal:          FlowBuffer{Data: make([]byte, bufSize)},
	}
	t.byLocal[localH] = conn
	t.byRemote[remoteH] = localH
	t.active.Insert(localH, struct{}{}, now)

	if t.stats != nil {
		t.stats.IncTCP()
	}
	return conn
}

// GetByAny looks up a connection by either its local or remote handle
// (spec.md section 4.3, get_by_any).
func (t *TCPTable) GetByAny(h handle.Handle) (*TCPConnection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if conn, ok := t.byLocal[h]; ok {
		return conn, true
	}
	if localH, ok := t.byRemote[h]; ok {
		return t.byLocal[localH], true
	}
	return nil, false
}

// Touch stamps a connection's last-active time, by either its local or
// remote handle, and updates its LRU position.
func (t *TCPTable) Touch(h handle.Handle, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	localH := h
	if _, ok := t.byLocal[h]; !ok {
		resolved, ok := t.byRemote[h]
		if !ok {
			return
		}
		localH = resolved
	}
	if conn, ok := t.byLocal[localH]; ok {
		conn.LastActive = now
		t.active.Update(localH, now)
	}
}

// SetConnected clears the remote-connecting flag once a non-blocking
// connect completes.
func (t *TCPTable) SetConnected(localH handle.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.byLocal[localH]; ok {
		conn.RemoteConnecting = false
	}
}

// Remove destroys a connection by its local handle, tearing down both
// indexes and the LRU entry, and decrements the tcp-population gauge.
func (t *TCPTable) Remove(localH handle.Handle) (*TCPConnection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.byLocal[localH]
	if !ok {
		return nil, false
	}
	delete(t.byLocal, localH)
	delete(t.byRemote, conn.Remote)
	t.active.Erase(localH)

	if t.stats != nil {
		t.stats.DecTCP()
	}
	return conn, true
}

// Len returns the number of live connections.
func (t *TCPTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byLocal)
}

// Snapshot returns a copy of every live connection record, for the admin
// introspection surface's list_connections query. Safe to call from any
// goroutine; callers must not mutate the returned records.
func (t *TCPTable) Snapshot() []*TCPConnection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*TCPConnection, 0, len(t.byLocal))
	for _, conn := range t.byLocal {
		copied := *conn
		out = append(out, &copied)
	}
	return out
}

// ClearInactive runs the section 4.5 bounded eviction sweep: rate-limited
// to once per second, bounded to k = size/ratio+floor entries, oldest
// first. It returns the evicted connection records (not just their local
// handles) so the caller (the event loop) can deregister and close both
// the local and remote descriptors of each.
func (t *TCPTable) ClearInactive(now int64) []*TCPConnection {
	if t.policy.Disabled {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if now-t.lastSweep < 1 {
		return nil
	}
	t.lastSweep = now

	budget := t.policy.clampedBudget(len(t.byLocal))
	if budget == 0 {
		return nil
	}

	evictedH := t.active.EvictOlderThan(now, t.policy.Timeout, budget)
	evicted := make([]*TCPConnection, 0, len(evictedH))
	for _, localH := range evictedH {
		if conn, ok := t.byLocal[localH]; ok {
			delete(t.byLocal, localH)
			delete(t.byRemote, conn.Remote)
			evicted = append(evicted, conn)
			if t.stats != nil {
				t.stats.DecTCP()
			}
		}
	}
	return evicted
}

// UDPSession is the per-flow state record of spec.md section 2's "UDP
// session": client address, remote handle, listener handle, and
// timestamps. At most one session exists per client address.
type UDPSession struct {
	ClientAddr   netaddr.Address
	ClientAddrS  string
	Remote       handle.Handle
	Listener     handle.Handle
	Created      int64
	LastActive   int64
}

// UDPTable is the session table of spec.md section 4.4: primary index by
// client address, secondary index by remote handle, installed atomically
// together, aging delegated to an LRU index keyed by client address.
type UDPTable struct {
	mu         sync.RWMutex
	byClient   map[netaddr.Address]*UDPSession
	byRemote   map[handle.Handle]netaddr.Address
	active     *lru.Index[netaddr.Address, struct{}]
	policy     EvictionPolicy
	lastSweep  int64
	stats      *stats.Counters
}

// NewUDPTable constructs an empty UDP session table.
func NewUDPTable(policy EvictionPolicy, counters *stats.Counters) *UDPTable {
	return &UDPTable{
		byClient: make(map[netaddr.Address]*UDPSession),
		byRemote: make(map[handle.Handle]netaddr.Address),
		active:   lru.New[netaddr.Address, struct{}](),
		policy:   policy,
		stats:    counters,
	}
}

// NewSession installs a session under both indexes atomically and, unless
// it replaces an existing session for the same client address, increments
// the udp-population gauge (spec.md section 4.4: "new_session must
// atomically install both indexes").
func (t *UDPTable) NewSession(clientAddr netaddr.Address, remoteH, listenerH handle.Handle, now int64) *UDPSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	prior, replaced := t.byClient[clientAddr]
	if replaced {
		delete(t.byRemote, prior.Remote)
	}

	sess := &UDPSession{
		ClientAddr:  clientAddr,
		ClientAddrS: clientAddr.String(),
		Remote:      remoteH,
		Listener:    listenerH,
		Created:     now,
		LastActive:  now,
	}
	t.byClient[clientAddr] = sess
	t.byRemote[remoteH] = clientAddr
	t.active.Insert(clientAddr, struct{}{}, now)

	if t.stats != nil && !replaced {
		t.stats.IncUDP()
	}
	return sess
}

// GetByClient looks up a session by client address.
func (t *UDPTable) GetByClient(addr netaddr.Address) (*UDPSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sess, ok := t.byClient[addr]
	return sess, ok
}

// GetByRemote looks up a session by its outbound remote handle.
func (t *UDPTable) GetByRemote(h handle.Handle) (*UDPSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.byRemote[h]
	if !ok {
		return nil, false
	}
	return t.byClient[addr], true
}

// Touch stamps a session's last-active time and updates its LRU
// position.
func (t *UDPTable) Touch(addr netaddr.Address, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sess, ok := t.byClient[addr]; ok {
		sess.LastActive = now
		t.active.Update(addr, now)
	}
}

// Remove destroys a session by client address, tearing down both indexes
// and decrementing the udp-population gauge.
func (t *UDPTable) Remove(addr netaddr.Address) (*UDPSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.byClient[addr]
	if !ok {
		return nil, false
	}
	delete(t.byClient, addr)
	delete(t.byRemote, sess.Remote)
	t.active.Erase(addr)

	if t.stats != nil {
		t.stats.DecUDP()
	}
	return sess, true
}

// Len returns the number of live sessions.
func (t *UDPTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byClient)
}

// Snapshot returns a copy of every live session record, for the admin
// introspection surface's list_sessions query.
func (t *UDPTable) Snapshot() []*UDPSession {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*UDPSession, 0, len(t.byClient))
	for _, sess := range t.byClient {
		copied := *sess
		out = append(out, &copied)
	}
	return out
}

// ClearInactive runs the section 4.5 bounded eviction sweep over idle
// sessions and returns the remote handles of the sessions it evicted.
func (t *UDPTable) ClearInactive(now int64) []handle.Handle {
	if t.policy.Disabled {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if now-t.lastSweep < 1 {
		return nil
	}
	t.lastSweep = now

	budget := t.policy.clampedBudget(len(t.byClient))
	if budget == 0 {
		return nil
	}

	evictedAddrs := t.active.EvictOlderThan(now, t.policy.Timeout, budget)
	remoteHandles := make([]handle.Handle, 0, len(evictedAddrs))
	for _, addr := range evictedAddrs {
		if sess, ok := t.byClient[addr]; ok {
			delete(t.byClient, addr)
			delete(t.byRemote, sess.Remote)
			remoteHandles = append(remoteHandles, sess.Remote)
			if t.stats != nil {
				t.stats.DecUDP()
			}
		}
	}
	return remoteHandles
}
