package natsapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"agrosentry/internal/domain"
	"agrosentry/internal/ingest"
)

const headerContentType = "Content-Type"

// TelemetrySubscriber feeds samples published on "<subject>.<droneID>" into
// the ingest adapter. The last subject token must name the reporting drone.
type TelemetrySubscriber struct {
	nc      *nats.Conn
	subject string
	adapter *ingest.Adapter
	logger  *slog.Logger
	sub     *nats.Subscription
}

type telemetryReply struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

func NewTelemetrySubscriber(nc *nats.Conn, subject string, adapter *ingest.Adapter, logger *slog.Logger) *TelemetrySubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetrySubscriber{nc: nc, subject: subject, adapter: adapter, logger: logger}
}

func (s *TelemetrySubscriber) Start() error {
	sub, err := s.nc.Subscribe(s.subject+".*", s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("telemetry subscriber started", "subject", s.subject+".*")
	return nil
}

func (s *TelemetrySubscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

func (s *TelemetrySubscriber) handle(msg *nats.Msg) {
	err := s.submit(msg)
	if err != nil {
		s.logger.Debug("telemetry rejected", "subject", msg.Subject, "error", err)
	}
	if msg.Reply == "" {
		return
	}
	reply := telemetryReply{Accepted: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("telemetry reply failed", "subject", msg.Subject, "error", err)
	}
}

func (s *TelemetrySubscriber) submit(msg *nats.Msg) error {
	droneID := msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]
	contentType := ""
	if msg.Header != nil {
		contentType = msg.Header.Get(headerContentType)
	}
	sample, err := ingest.Decode(contentType, msg.Data)
	if err != nil {
		return err
	}
	if sample.DroneID == "" {
		sample.DroneID = droneID
	}
	if sample.DroneID != droneID {
		return fmt.Errorf("sample for %s on subject of %s: %w", sample.DroneID, droneID, domain.ErrForbidden)
	}
	_, err = s.adapter.SubmitSample(sample)
	return err
}
