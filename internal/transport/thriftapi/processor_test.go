package thriftapi

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/apache/thrift/lib/go/thrift"
	"github.com/jonboulle/clockwork"

	"agrosentry/internal/auth"
	"agrosentry/internal/fleet"
	"agrosentry/internal/ingest"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestProcessor(t *testing.T) (*Processor, *auth.Authenticator) {
	t.Helper()
	engine, err := fleet.New(fleet.DefaultConfig(),
		fleet.WithClock(clockwork.NewFakeClockAt(t0)),
		fleet.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(engine.Close)
	authenticator := auth.New("secret", time.Hour)
	return NewProcessor(engine, authenticator), authenticator
}

// call encodes one request, runs it through the processor and returns a
// protocol positioned at the reply body.
func call(t *testing.T, p *Processor, method string, request func(ctx context.Context, out thrift.TProtocol) error) (thrift.TProtocol, thrift.TMessageType) {
	t.Helper()
	ctx := context.Background()
	conf := &thrift.TConfiguration{}
	inBuf := thrift.NewTMemoryBuffer()
	outBuf := thrift.NewTMemoryBuffer()
	req := thrift.NewTBinaryProtocolConf(inBuf, conf)

	if err := req.WriteMessageBegin(ctx, method, thrift.CALL, 1); err != nil {
		t.Fatal(err)
	}
	err := writeStruct(ctx, req, method+"_args", func() error {
		return writeField(ctx, req, "request", thrift.STRUCT, 1, func() error { return request(ctx, req) })
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := req.WriteMessageEnd(ctx); err != nil {
		t.Fatal(err)
	}

	_, _ = p.Process(ctx, req, thrift.NewTBinaryProtocolConf(outBuf, conf))

	reply := thrift.NewTBinaryProtocolConf(outBuf, conf)
	_, msgType, _, err := reply.ReadMessageBegin(ctx)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return reply, msgType
}

func readAppException(t *testing.T, in thrift.TProtocol) string {
	t.Helper()
	exc := thrift.NewTApplicationException(thrift.UNKNOWN_APPLICATION_EXCEPTION, "")
	if err := exc.Read(context.Background(), in); err != nil {
		t.Fatalf("read exception: %v", err)
	}
	return exc.Error()
}

func pushTelemetry(token string, payload []byte) func(ctx context.Context, out thrift.TProtocol) error {
	return func(ctx context.Context, out thrift.TProtocol) error {
		return writeStruct(ctx, out, "TelemetryRequest", func() error {
			if err := writeString(ctx, out, "token", 1, token); err != nil {
				return err
			}
			if err := writeField(ctx, out, "payload", thrift.STRING, 2, func() error { return out.WriteBinary(ctx, payload) }); err != nil {
				return err
			}
			return writeString(ctx, out, "contentType", 3, ingest.ContentTypeCBOR)
		})
	}
}

func TestPushTelemetryThenQueryDrone(t *testing.T) {
	p, authenticator := newTestProcessor(t)
	droneToken, _, _ := authenticator.IssueToken("d1", "drone")
	opToken, _, _ := authenticator.IssueToken("ops", "operator")

	battery := 64.0
	payload, err := ingest.Encode(ingest.ContentTypeCBOR, ingest.Sample{DroneID: "d1", Timestamp: t0, Battery: &battery, Mode: "IDLE"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, msgType := call(t, p, "PushTelemetry", pushTelemetry(droneToken, payload)); msgType != thrift.REPLY {
		t.Fatalf("expected reply, got %v", msgType)
	}

	// a command goes through the same worker queue, so the sample is applied first
	_, msgType := call(t, p, "IssueCommand", func(ctx context.Context, out thrift.TProtocol) error {
		return writeStruct(ctx, out, "CommandRequest", func() error {
			if err := writeString(ctx, out, "token", 1, opToken); err != nil {
				return err
			}
			if err := writeString(ctx, out, "droneId", 2, "d1"); err != nil {
				return err
			}
			return writeString(ctx, out, "kind", 3, "TAKEOFF")
		})
	})
	if msgType != thrift.REPLY {
		t.Fatalf("issue command: expected reply, got %v", msgType)
	}

	reply, msgType := call(t, p, "QueryDrone", func(ctx context.Context, out thrift.TProtocol) error {
		return writeStruct(ctx, out, "DroneIDRequest", func() error {
			if err := writeString(ctx, out, "token", 1, opToken); err != nil {
				return err
			}
			return writeString(ctx, out, "droneId", 2, "d1")
		})
	})
	if msgType != thrift.REPLY {
		t.Fatalf("query: expected reply, got %v", msgType)
	}

	ctx := context.Background()
	var (
		gotBattery float64
		hasCommand bool
	)
	err = readStruct(ctx, reply, func(fid int16, ft thrift.TType) error {
		if fid != 0 {
			return reply.Skip(ctx, ft)
		}
		return readStruct(ctx, reply, func(fid int16, ft thrift.TType) (err error) {
			switch fid {
			case 4:
				gotBattery, err = reply.ReadDouble(ctx)
			case 9:
				hasCommand = true
				err = reply.Skip(ctx, ft)
			default:
				err = reply.Skip(ctx, ft)
			}
			return err
		})
	})
	if err != nil {
		t.Fatalf("decode drone: %v", err)
	}
	if gotBattery != 64 || !hasCommand {
		t.Fatalf("unexpected drone: battery=%v active=%v", gotBattery, hasCommand)
	}
}

func TestPushTelemetryForOtherDroneIsForbidden(t *testing.T) {
	p, authenticator := newTestProcessor(t)
	token, _, _ := authenticator.IssueToken("d2", "drone")
	payload, _ := ingest.Encode(ingest.ContentTypeCBOR, ingest.Sample{DroneID: "d1", Timestamp: t0})

	reply, msgType := call(t, p, "PushTelemetry", pushTelemetry(token, payload))
	if msgType != thrift.EXCEPTION {
		t.Fatalf("expected exception, got %v", msgType)
	}
	if msg := readAppException(t, reply); !strings.Contains(msg, "forbidden") {
		t.Fatalf("unexpected exception %q", msg)
	}
}

func TestQueryUnknownDrone(t *testing.T) {
	p, authenticator := newTestProcessor(t)
	token, _, _ := authenticator.IssueToken("ops", "operator")
	reply, msgType := call(t, p, "QueryDrone", func(ctx context.Context, out thrift.TProtocol) error {
		return writeStruct(ctx, out, "DroneIDRequest", func() error {
			if err := writeString(ctx, out, "token", 1, token); err != nil {
				return err
			}
			return writeString(ctx, out, "droneId", 2, "ghost")
		})
	})
	if msgType != thrift.EXCEPTION {
		t.Fatalf("expected exception, got %v", msgType)
	}
	if msg := readAppException(t, reply); !strings.Contains(msg, "not_found") {
		t.Fatalf("unexpected exception %q", msg)
	}
}
