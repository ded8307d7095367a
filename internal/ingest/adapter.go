package ingest

import (
	"errors"

	"agrosentry/internal/domain"
	"agrosentry/internal/metrics"
)

// Sink receives normalized telemetry. The fleet engine implements it.
type Sink interface {
	Ingest(event domain.TelemetryEvent) error
}

// Adapter is the single entry point every transport hands raw telemetry to.
type Adapter struct {
	sink Sink
}

func NewAdapter(sink Sink) *Adapter {
	return &Adapter{sink: sink}
}

// Submit decodes, normalizes and forwards one encoded sample.
func (a *Adapter) Submit(contentType string, data []byte) (domain.TelemetryEvent, error) {
	s, err := Decode(contentType, data)
	if err != nil {
		metrics.IncTelemetry(metrics.TelemetryInvalid)
		return domain.TelemetryEvent{}, err
	}
	return a.SubmitSample(s)
}

func (a *Adapter) SubmitSample(s Sample) (domain.TelemetryEvent, error) {
	event, err := Normalize(s)
	if err != nil {
		metrics.IncTelemetry(metrics.TelemetryInvalid)
		return domain.TelemetryEvent{}, err
	}
	if err := a.sink.Ingest(event); err != nil {
		if errors.Is(err, domain.ErrOverloaded) {
			metrics.IncTelemetry(metrics.TelemetryOverloaded)
		}
		return domain.TelemetryEvent{}, err
	}
	return event, nil
}
