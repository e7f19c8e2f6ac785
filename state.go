package bookledger

import (
	"math/big"
	"sync"
)

// DefaultChainID is the chain id shown before any session exists.
var DefaultChainID = big.NewInt(1)

// State is an immutable snapshot of everything the client shows.
// Transitions build new slices; published slices are never modified.
type State struct {
	SessionID    string              `json:"sessionId,omitempty"`
	ConnectionID string              `json:"connectionId,omitempty"`
	Address      string              `json:"address"`
	ChainID      *big.Int            `json:"chainId"`
	Connected    bool                `json:"connected"`
	Fetching     bool                `json:"fetching"`
	IsAdmin      bool                `json:"isAdmin"`
	Pending      *PendingTransaction `json:"pending,omitempty"`
	LastTx       *PendingTransaction `json:"lastTx,omitempty"`
	Inventory    Inventory           `json:"inventory"`
	Allowance    Allowance           `json:"allowance"`
	Form         FormDraft           `json:"form"`
	Error        string              `json:"error,omitempty"`
	ReconcileErr string              `json:"reconcileError,omitempty"`
}

// InitialState returns the documented initial values.
func InitialState() State {
	return State{
		ChainID:   new(big.Int).Set(DefaultChainID),
		Inventory: Inventory{All: []Book{}, Available: []Book{}, Rented: []Book{}},
		Allowance: ZeroAllowance(),
	}
}

// Transition derives the next state from the current one.
type Transition func(State) State

// Store holds the current State and serializes transitions.
type Store struct {
	mu        sync.Mutex
	state     State
	listeners []func(State)
	applied   uint64

	// Listener calls are delivered in the order transitions were applied.
	dispatchMu sync.Mutex
	dispatched *sync.Cond
	delivered  uint64
}

// NewStore creates a store holding InitialState.
func NewStore() *Store {
	s := &Store{state: InitialState()}
	s.dispatched = sync.NewCond(&s.dispatchMu)
	return s
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Apply runs t against the current state and publishes the result.
// Listeners may call Snapshot but must not call Apply.
func (s *Store) Apply(t Transition) State {
	s.mu.Lock()
	next := t(s.state)
	s.state = next
	s.applied++
	seq := s.applied
	listeners := s.listeners
	s.mu.Unlock()

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	for s.delivered != seq-1 {
		s.dispatched.Wait()
	}
	for _, l := range listeners {
		l(next)
	}
	s.delivered = seq
	s.dispatched.Broadcast()
	return next
}

// OnChange registers a listener called after every transition.
func (s *Store) OnChange(l func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(append([]func(State){}, s.listeners...), l)
}

// ============================================================================
// Transitions
// ============================================================================

// forSession wraps t so it only applies while sessionID is current.
func forSession(sessionID string, t Transition) Transition {
	return func(s State) State {
		if s.SessionID != sessionID {
			return s
		}
		return t(s)
	}
}

// forConnection wraps t so it only applies while the wallet connection is unchanged.
func forConnection(connectionID string, t Transition) Transition {
	return func(s State) State {
		if s.ConnectionID != connectionID {
			return s
		}
		return t(s)
	}
}

func resetState() Transition {
	return func(State) State {
		return InitialState()
	}
}

func sessionStarted(sess *Session) Transition {
	return func(s State) State {
		next := InitialState()
		next.SessionID = sess.ID
		next.ConnectionID = sess.ConnectionID
		next.Address = sess.Address
		next.ChainID = new(big.Int).Set(sess.ChainID)
		next.Connected = true
		next.Form = s.Form
		return next
	}
}

func accountReplaced(sess *Session) Transition {
	return func(s State) State {
		s.SessionID = sess.ID
		s.Address = sess.Address
		s.IsAdmin = false
		s.Allowance = ZeroAllowance()
		s.Inventory = Inventory{All: []Book{}, Available: []Book{}, Rented: []Book{}}
		return s
	}
}

func chainChanged(sess *Session) Transition {
	return func(s State) State {
		s.SessionID = sess.ID
		s.ChainID = new(big.Int).Set(sess.ChainID)
		return s
	}
}

func setError(msg string) Transition {
	return func(s State) State {
		s.Error = msg
		return s
	}
}

func clearError() Transition {
	return setError("")
}

func txStarted() Transition {
	return func(s State) State {
		s.Fetching = true
		s.Error = ""
		return s
	}
}

func txSubmitted(tx PendingTransaction) Transition {
	return func(s State) State {
		s.Pending = &tx
		return s
	}
}

func txFinished(tx *PendingTransaction, errMsg string) Transition {
	return func(s State) State {
		s.Fetching = false
		s.Pending = nil
		if tx != nil {
			s.LastTx = tx
		}
		if errMsg != "" {
			s.Error = errMsg
		}
		return s
	}
}

func inventoryScanned(inv Inventory, isAdmin bool) Transition {
	return func(s State) State {
		s.Inventory = inv
		s.IsAdmin = isAdmin
		s.ReconcileErr = ""
		return s
	}
}

func availableScanned(all, available []Book) Transition {
	return func(s State) State {
		s.Inventory.All = all
		s.Inventory.Available = available
		s.ReconcileErr = ""
		return s
	}
}

func rentedScanned(rented []Book) Transition {
	return func(s State) State {
		s.Inventory.Rented = rented
		s.ReconcileErr = ""
		return s
	}
}

func reconcileFailed(msg string) Transition {
	return func(s State) State {
		s.ReconcileErr = msg
		return s
	}
}

func allowanceRead(a Allowance) Transition {
	return func(s State) State {
		s.Allowance = a
		return s
	}
}

func formUpdated(f FormDraft) Transition {
	return func(s State) State {
		s.Form = f
		return s
	}
}
