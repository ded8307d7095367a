package grpcapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"agrosentry/internal/auth"
	"agrosentry/internal/fleet"
	"agrosentry/internal/ingest"
	"agrosentry/internal/transport"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }

func newTestClient(t *testing.T) (*grpc.ClientConn, *fleet.Engine) {
	t.Helper()
	engine, err := fleet.New(fleet.DefaultConfig(),
		fleet.WithClock(clockwork.NewFakeClockAt(t0)),
		fleet.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(engine.Close)

	lis := bufconn.Listen(1 << 20)
	server := NewServer(engine, auth.New("secret", time.Hour))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	opts := append(DialOptions(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, engine
}

func login(t *testing.T, conn *grpc.ClientConn, name, role string) *Client {
	t.Helper()
	client := NewClient(conn)
	if err := client.Login(context.Background(), name, role); err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	return client
}

func TestCallsWithoutTokenAreUnauthenticated(t *testing.T) {
	conn, _ := newTestClient(t)
	var resp ListDronesResponse
	err := NewClient(conn).Invoke(context.Background(), "ListDrones", &Empty{}, &resp)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestPushTelemetryThenIssueCommand(t *testing.T) {
	conn, _ := newTestClient(t)
	ctx := context.Background()
	drone := login(t, conn, "d1", "drone")
	operator := login(t, conn, "ops", "operator")

	var accepted TelemetryAccepted
	sample := &ingest.Sample{DroneID: "d1", Timestamp: t0, Battery: fptr(75), Mode: "IDLE"}
	if err := drone.Invoke(ctx, "PushTelemetry", sample, &accepted); err != nil {
		t.Fatalf("push telemetry: %v", err)
	}
	if accepted.DroneID != "d1" {
		t.Fatalf("unexpected ack: %+v", accepted)
	}

	var forbidden TelemetryAccepted
	other := &ingest.Sample{DroneID: "d2", Timestamp: t0, Battery: fptr(75)}
	if err := drone.Invoke(ctx, "PushTelemetry", other, &forbidden); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied for foreign drone, got %v", err)
	}

	var cmd transport.CommandResponse
	req := &IssueCommandRequest{DroneID: "d1", CommandRequest: transport.CommandRequest{Kind: "TAKEOFF"}}
	if err := operator.Invoke(ctx, "IssueCommand", req, &cmd); err != nil {
		t.Fatalf("issue command: %v", err)
	}
	if cmd.State != "PENDING" || cmd.TargetMode != "AUTO" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	var busy transport.CommandResponse
	land := &IssueCommandRequest{DroneID: "d1", CommandRequest: transport.CommandRequest{Kind: "LAND"}}
	if err := operator.Invoke(ctx, "IssueCommand", land, &busy); status.Code(err) != codes.Aborted {
		t.Fatalf("expected Aborted for busy drone, got %v", err)
	}

	var d transport.DroneResponse
	if err := operator.Invoke(ctx, "QueryDrone", &DroneIDRequest{DroneID: "d1"}, &d); err != nil {
		t.Fatalf("query drone: %v", err)
	}
	if d.ActiveCommand == nil || d.ActiveCommand.ID != cmd.ID {
		t.Fatalf("unexpected drone view: %+v", d)
	}

	var missing transport.DroneResponse
	if err := operator.Invoke(ctx, "QueryDrone", &DroneIDRequest{DroneID: "nope"}, &missing); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	conn, engine := newTestClient(t)
	operator := login(t, conn, "ops", "operator")
	drone := login(t, conn, "d1", "drone")

	var accepted TelemetryAccepted
	sample := &ingest.Sample{DroneID: "d1", Timestamp: t0, Battery: fptr(60)}
	if err := drone.Invoke(context.Background(), "PushTelemetry", sample, &accepted); err != nil {
		t.Fatalf("push telemetry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan transport.SnapshotResponse, 1)
	errCh := make(chan error, 1)
	done := errors.New("done")
	go func() {
		errCh <- operator.Subscribe(ctx, func(snap transport.SnapshotResponse) error {
			if len(snap.Drones) == 0 {
				return nil
			}
			got <- snap
			return done
		})
	}()

	deadline := time.After(5 * time.Second)
	for {
		engine.PublishSnapshot()
		select {
		case snap := <-got:
			if snap.Drones[0].ID != "d1" {
				t.Fatalf("unexpected snapshot: %+v", snap)
			}
			if err := <-errCh; !errors.Is(err, done) {
				t.Fatalf("subscribe returned %v", err)
			}
			return
		case err := <-errCh:
			t.Fatalf("subscribe ended early: %v", err)
		case <-deadline:
			t.Fatal("no snapshot received")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
