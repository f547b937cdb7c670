package lifecycle

import "context"

// Phase orders shutdown hooks. Lower phases finish before higher ones start.
type Phase int

const (
	// PhaseDrain stops accepting new work: readiness, HTTP listener.
	PhaseDrain Phase = iota
	// PhaseWorkers waits for background processors.
	PhaseWorkers
	// PhaseResources closes connections used by the earlier phases.
	PhaseResources
)

// Hook describes a named shutdown hook.
type Hook struct {
	Name  string
	Phase Phase
	Fn    func(ctx context.Context) error
}
