package research

import (
	"log/slog"
	"time"
)

// Phase names a state of the research state machine.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseSearching    Phase = "searching"
	PhaseExtracting   Phase = "extracting"
	PhaseAnalyzing    Phase = "analyzing"
	PhaseDeciding     Phase = "deciding"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseDone         Phase = "done"
)

// Event is a lightweight progress snapshot emitted at each transition.
type Event struct {
	Round     int       `json:"round"`
	MaxRounds int       `json:"max_rounds"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message"`
	Queries   int       `json:"queries"`
	Results   int       `json:"results"`
	Sources   int       `json:"sources"`
	Time      time.Time `json:"time"`
}

// Observer receives progress events.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// notify delivers e to obs. A panicking observer is logged and ignored.
func notify(obs Observer, e Event, logger *slog.Logger) {
	if obs == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Progress observer panicked", "phase", e.Phase, "round", e.Round, "panic", r)
		}
	}()
	obs.OnEvent(e)
}
