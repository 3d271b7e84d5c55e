package system

import "time"

// Phase defines execution ordering within a single tick of the host loop.
type Phase int

const (
	PhaseEvents  Phase = iota // 0: swap + dispatch last tick's events
	PhaseInput                // 1: advance the viewpoint
	PhaseUpdate               // 2: cell lifecycle tick
	PhasePost                 // 3: drain layer completions
	PhaseOutput               // 4: stats and reporting
	PhasePersist              // 5: cache write-behind
)

// System is the interface every host system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
