package adapters

import (
	"time"

	"github.com/rzzdr/option-valuation/internal/market"
	"github.com/rzzdr/option-valuation/internal/valuation"
	"github.com/rzzdr/option-valuation/pkg/metrics"
)

// MetricsAdapter makes a possibly nil *metrics.Recorder usable wherever the
// pipeline expects a recorder, so metrics can be disabled by configuration
type MetricsAdapter struct {
	recorder *metrics.Recorder
}

var (
	_ market.FetchRecorder = (*MetricsAdapter)(nil)
	_ valuation.Recorder   = (*MetricsAdapter)(nil)
)

// NewMetricsAdapter wraps recorder, which may be nil
func NewMetricsAdapter(recorder *metrics.Recorder) *MetricsAdapter {
	return &MetricsAdapter{
		recorder: recorder,
	}
}

// Enabled reports whether a recorder is attached
func (a *MetricsAdapter) Enabled() bool {
	return a.recorder != nil
}

// RecordAPIRequest implements the API middleware recorder
func (a *MetricsAdapter) RecordAPIRequest(method, path string, status int, latency time.Duration) {
	if a.recorder != nil {
		a.recorder.RecordAPIRequest(method, path, status, latency)
	}
}

// RecordFetch implements market.FetchRecorder
func (a *MetricsAdapter) RecordFetch(source, outcome string, elapsed time.Duration) {
	if a.recorder != nil {
		a.recorder.RecordFetch(source, outcome, elapsed)
	}
}

// RecordValuation implements valuation.Recorder
func (a *MetricsAdapter) RecordValuation(model, outcome string, latency time.Duration) {
	if a.recorder != nil {
		a.recorder.RecordValuation(model, outcome, latency)
	}
}

// RecordEstimation implements valuation.Recorder
func (a *MetricsAdapter) RecordEstimation(outcome string, latency time.Duration) {
	if a.recorder != nil {
		a.recorder.RecordEstimation(outcome, latency)
	}
}

// RecordSimulationTrials implements valuation.Recorder
func (a *MetricsAdapter) RecordSimulationTrials(model string, trials int) {
	if a.recorder != nil {
		a.recorder.RecordSimulationTrials(model, trials)
	}
}

// RecordParity implements valuation.Recorder
func (a *MetricsAdapter) RecordParity(holds bool) {
	if a.recorder != nil {
		a.recorder.RecordParity(holds)
	}
}

// RecordPublish implements valuation.Recorder
func (a *MetricsAdapter) RecordPublish(sink, outcome string) {
	if a.recorder != nil {
		a.recorder.RecordPublish(sink, outcome)
	}
}

// RecordWebsocketClients feeds the websocket hub's client gauge
func (a *MetricsAdapter) RecordWebsocketClients(count int) {
	if a.recorder != nil {
		a.recorder.RecordWebsocketClients(count)
	}
}
