package scheduler

import (
	"time"

	"github.com/wesleyorama2/swarm/internal/injection"
	"github.com/wesleyorama2/swarm/internal/metrics"
	"github.com/wesleyorama2/swarm/internal/runner"
)

// SpawnEvent records one started user.
type SpawnEvent struct {
	VUID  int `json:"vuId"`
	Phase int `json:"phase"`
	// Offset is the planned offset from the phase start for open-model
	// users, the elapsed phase time for closed-model users.
	Offset time.Duration   `json:"offset"`
	Model  injection.Model `json:"model"`
	At     time.Time       `json:"at"`
}

// Summary describes a finished run of one scenario.
type Summary struct {
	RunID    string    `json:"runId"`
	Scenario string    `json:"scenario"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	// Stopped is set when a stop cut the schedule short.
	Stopped bool `json:"stopped"`

	Spawned         int `json:"spawned"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	Aborted         int `json:"aborted"`
	PeakConcurrency int `json:"peakConcurrency"`
	RequestsOK      int `json:"requestsOk"`
	RequestsKO      int `json:"requestsKo"`

	Spawns   []SpawnEvent            `json:"spawns"`
	Requests []metrics.RequestRecord `json:"requests"`
	Results  []runner.Result         `json:"results"`
}

func (s *Summary) Duration() time.Duration { return s.End.Sub(s.Start) }

// SpawnsIn returns the spawn events of one phase.
func (s *Summary) SpawnsIn(phase int) []SpawnEvent {
	var out []SpawnEvent
	for _, ev := range s.Spawns {
		if ev.Phase == phase {
			out = append(out, ev)
		}
	}
	return out
}
