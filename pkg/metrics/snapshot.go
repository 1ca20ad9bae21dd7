package metrics

import (
	"fmt"
	"os"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Summary aggregates the counters found in a metrics snapshot. It is the
// read side of Recorder.WriteTextfile, used by the status command to show
// cumulative usage without touching the live registry.
type Summary struct {
	InputTokens     int64
	OutputTokens    int64
	EstimatedCost   float64
	SessionOutcomes map[string]int64
	HeartbeatStalls int64
}

// TotalTokens returns input plus output tokens.
func (s *Summary) TotalTokens() int64 {
	return s.InputTokens + s.OutputTokens
}

// TotalSessions returns the number of recorded sessions across all outcomes.
func (s *Summary) TotalSessions() int64 {
	var n int64
	for _, count := range s.SessionOutcomes {
		n += count
	}
	return n
}

// ReadTextfile parses a snapshot written by Recorder.WriteTextfile and
// aggregates its counters. A missing file is returned as an error so the
// caller can tell "no snapshot yet" apart from an empty one.
func ReadTextfile(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metrics snapshot: %w", err)
	}
	defer f.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return nil, fmt.Errorf("parse metrics snapshot: %w", err)
	}

	summary := &Summary{SessionOutcomes: make(map[string]int64)}
	for name, family := range families {
		switch name {
		case "agentloop_tokens_total":
			for _, m := range family.GetMetric() {
				count := int64(m.GetCounter().GetValue())
				switch labelValue(m, "direction") {
				case "input":
					summary.InputTokens += count
				case "output":
					summary.OutputTokens += count
				}
			}
		case "agentloop_sessions_total":
			for _, m := range family.GetMetric() {
				outcome := labelValue(m, "outcome")
				summary.SessionOutcomes[outcome] += int64(m.GetCounter().GetValue())
			}
		case "agentloop_estimated_cost_dollars_total":
			for _, m := range family.GetMetric() {
				summary.EstimatedCost += m.GetCounter().GetValue()
			}
		case "agentloop_heartbeat_stalls_total":
			for _, m := range family.GetMetric() {
				summary.HeartbeatStalls += int64(m.GetCounter().GetValue())
			}
		}
	}
	return summary, nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, label := range m.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}
