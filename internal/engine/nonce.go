package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// nonceManager serializes nonce assignment per sender address. Reserving a
// nonce and submitting the transaction built on it form one critical
// section, so concurrent sends from the same wallet never observe the same
// "next nonce".
type nonceManager struct {
	mu     sync.Mutex
	byAddr map[common.Address]*addrNonce
}

type addrNonce struct {
	mu    sync.Mutex
	next  uint64
	known bool
}

func newNonceManager() *nonceManager {
	return &nonceManager{byAddr: make(map[common.Address]*addrNonce)}
}

// acquire returns the per-address state with its lock held. The caller must
// call release when the submission attempt is over.
func (m *nonceManager) acquire(addr common.Address) *addrNonce {
	m.mu.Lock()
	state, ok := m.byAddr[addr]
	if !ok {
		state = &addrNonce{}
		m.byAddr[addr] = state
	}
	m.mu.Unlock()

	state.mu.Lock()
	return state
}

// reserve picks the nonce for this attempt: the chain's pending nonce, or
// the locally tracked successor when back-to-back sends outpace the mempool.
func (s *addrNonce) reserve(chainPending uint64) uint64 {
	if !s.known || chainPending > s.next {
		s.next = chainPending
		s.known = true
	}
	return s.next
}

// committed records a successful broadcast of the reserved nonce
func (s *addrNonce) committed(nonce uint64) {
	s.next = nonce + 1
}

// release ends the critical section
func (s *addrNonce) release() {
	s.mu.Unlock()
}
