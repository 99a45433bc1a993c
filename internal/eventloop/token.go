package eventloop

import "github.com/vanenet/portmapd/internal/handle"

// Token is a poller-level identifier, distinct from a handle.Handle: tokens
// are small monotonically increasing integers suitable for use as epoll
// user-data, while handles are the opaque 64-bit identifiers the rest of
// the system uses to refer to sockets (spec.md section 4.6).
type Token uint64

// TokenMap is the bijection between poller tokens and handles required by
// spec.md section 4.6's registration contract: "each registered socket
// appears under a unique token... any token removed from the map must
// also be deregistered from the poller before the underlying descriptor
// is closed."
type TokenMap struct {
	next       uint64
	tokenToH   map[Token]handle.Handle
	hToToken   map[handle.Handle]Token
}

// NewTokenMap constructs an empty token map.
func NewTokenMap() *TokenMap {
	return &TokenMap{
		tokenToH: make(map[Token]handle.Handle),
		hToToken: make(map[handle.Handle]Token),
	}
}

// Assign mints a new token for h, or returns the existing one if h is
// already registered.
func (m *TokenMap) Assign(h handle.Handle) Token {
	if t, ok := m.hToToken[h]; ok {
		return t
	}
	m.next++
	t := Token(m.next)
	m.tokenToH[t] = h
	m.hToToken[h] = t
	return t
}

// Handle resolves a token to its handle.
func (m *TokenMap) Handle(t Token) (handle.Handle, bool) {
	h, ok := m.tokenToH[t]
	return h, ok
}

// TokenFor resolves a handle to its token.
func (m *TokenMap) TokenFor(h handle.Handle) (Token, bool) {
	t, ok := m.hToToken[h]
	return t, ok
}

// Remove deregisters h (and its token) from the map. Callers must
// deregister the token from the poller first, per the registration
// contract.
func (m *TokenMap) Remove(h handle.Handle) {
	t, ok := m.hToToken[h]
	if !ok {
		return
	}
	delete(m.hToToken, h)
	delete(m.tokenToH, t)
}
