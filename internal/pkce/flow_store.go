package pkce

import (
	"sync"
	"time"

	"steward/internal/clock"
	"steward/pkg/logging"
)

// DefaultFlowExpiry bounds how long a user has to finish consent in the browser.
const DefaultFlowExpiry = 10 * time.Minute

type pendingFlow struct {
	params    *Params
	createdAt time.Time
}

// FlowStore holds authorization attempts that are waiting for their callback.
// Each entry can be consumed exactly once.
type FlowStore struct {
	mu     sync.Mutex
	flows  map[string]pendingFlow
	expiry time.Duration
	clock  clock.Clock
}

// NewFlowStore creates an empty store. A nil clock uses the system time.
func NewFlowStore(c clock.Clock) *FlowStore {
	return &FlowStore{
		flows:  make(map[string]pendingFlow),
		expiry: DefaultFlowExpiry,
		clock:  clock.OrReal(c),
	}
}

// Begin registers params as pending under its state value.
func (s *FlowStore) Begin(params *Params) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	s.flows[params.State] = pendingFlow{params: params, createdAt: s.clock.Now()}
	logging.Debug("PKCE", "Started flow for provider=%s state=%s", params.ProviderID, logging.Fingerprint(params.State))
}

// Consume removes and returns the flow issued with state.
//
// An unknown state while other flows are pending is treated as a forged
// callback: ErrCSRFMismatch is returned and every pending flow is discarded.
// With nothing pending the result is ErrNoPendingFlow.
func (s *FlowStore) Consume(state string) (*Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()

	flow, ok := s.flows[state]
	if !ok {
		if len(s.flows) == 0 {
			return nil, ErrNoPendingFlow
		}
		logging.Audit("PKCE", "callback state mismatch, discarding pending flows")
		clear(s.flows)
		return nil, ErrCSRFMismatch
	}
	delete(s.flows, state)

	if err := ValidateCallback(flow.params, state); err != nil {
		return nil, err
	}
	return flow.params, nil
}

// Cancel drops the pending flow for state, if any.
func (s *FlowStore) Cancel(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, state)
}

// Len reports the number of unexpired pending flows.
func (s *FlowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	return len(s.flows)
}

func (s *FlowStore) purgeLocked() {
	now := s.clock.Now()
	for state, flow := range s.flows {
		if now.Sub(flow.createdAt) > s.expiry {
			delete(s.flows, state)
		}
	}
}
