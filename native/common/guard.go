package common

import "errors"

// ErrModulePaused is returned by Guard while a module is halted. Engines
// surface it unchanged so callers can distinguish an operator pause from an
// accounting failure.
var ErrModulePaused = errors.New("module paused")

// PauseView answers whether a named engine module ("vault", "strategy") is
// currently halted. Implementations must be safe to call on every mutating
// entry point.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard checks the pause view before a mutating operation runs. A nil view
// or empty module name means pausing is not wired and the operation proceeds.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSwitch is an in-memory PauseView for operator tooling: modules are
// halted and resumed by name. The zero value pauses nothing.
type PauseSwitch struct {
	paused map[string]bool
}

// Pause halts the named module.
func (s *PauseSwitch) Pause(module string) {
	if s.paused == nil {
		s.paused = make(map[string]bool)
	}
	s.paused[module] = true
}

// Resume lifts the halt on the named module.
func (s *PauseSwitch) Resume(module string) {
	delete(s.paused, module)
}

// IsPaused reports whether the named module is halted.
func (s *PauseSwitch) IsPaused(module string) bool {
	return s.paused[module]
}
