package analyzer

import (
	"fmt"

	"BasalGCT/internal/integrator"
	"BasalGCT/internal/reservoir"
)

// Snapshot captures the reservoir of an existing session.
func (a *Analyzer) Snapshot(symbol string) (*reservoir.Snapshot, error) {
	a.mu.RLock()
	s, ok := a.sessions[symbol]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return s.integ.Snapshot(), nil
}

// Restore loads snap into the symbol's session, creating the session if needed.
func (a *Analyzer) Restore(symbol string, snap *reservoir.Snapshot) error {
	s, err := a.session(symbol)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.integ.LoadSnapshot(snap)
}

// Lookup returns the symbol's integrator without creating a session.
func (a *Analyzer) Lookup(symbol string) (*integrator.Integrator, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[symbol]
	if !ok {
		return nil, false
	}
	return s.integ, true
}
