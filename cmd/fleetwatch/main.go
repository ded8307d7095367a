// Command fleetwatch prints fleet snapshots streamed over gRPC.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"agrosentry/internal/transport"
	"agrosentry/internal/transport/grpcapi"
)

func main() {
	flags := pflag.NewFlagSet("fleetwatch", pflag.ExitOnError)
	addr := flags.String("addr", "localhost:9090", "fleet server gRPC address")
	name := flags.String("name", "fleetwatch", "operator name for the token")
	raw := flags.Bool("json", false, "print raw JSON snapshots")
	_ = flags.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := append(grpcapi.DialOptions(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	conn, err := grpc.NewClient(*addr, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	client := grpcapi.NewClient(conn)
	loginCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = client.Login(loginCtx, *name, "operator")
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "login: %v\n", err)
		os.Exit(1)
	}

	err = client.Subscribe(ctx, func(snap transport.SnapshotResponse) error {
		if *raw {
			return json.NewEncoder(os.Stdout).Encode(snap)
		}
		printSnapshot(snap)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "stream: %v\n", err)
		os.Exit(1)
	}
}

func printSnapshot(snap transport.SnapshotResponse) {
	fmt.Printf("snapshot v%d at %s: %d drones\n", snap.Version, snap.TakenAt.Format(time.RFC3339), len(snap.Drones))
	for _, d := range snap.Drones {
		active := "-"
		if d.ActiveCommand != nil {
			active = d.ActiveCommand.Kind + "/" + d.ActiveCommand.State
		}
		fmt.Printf("  %-12s %-18s %-9s battery=%5.1f%% cmd=%s\n", d.ID, d.Mode, d.Connectivity, d.Battery, active)
	}
	for _, a := range snap.Alerts {
		fmt.Printf("  ! %s %s %s: %s\n", a.Severity, a.DroneID, a.Code, a.Message)
	}
}
