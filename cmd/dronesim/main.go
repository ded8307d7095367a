// Command dronesim flies a set of simulated drones against a fleet server
// over NATS. Each drone publishes telemetry on a fixed interval and
// acknowledges the commands it receives in its next sample.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"agrosentry/internal/ingest"
	"agrosentry/internal/transport/natsapi"
)

type options struct {
	natsURL          string
	drones           int
	idPrefix         string
	interval         time.Duration
	telemetrySubject string
	commandPrefix    string
	contentType      string
	lat, lng         float64
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("dronesim", pflag.ExitOnError)
	flags.StringVar(&opts.natsURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	flags.IntVar(&opts.drones, "drones", 5, "number of simulated drones")
	flags.StringVar(&opts.idPrefix, "id-prefix", "sim-", "drone id prefix")
	flags.DurationVar(&opts.interval, "interval", time.Second, "telemetry interval")
	flags.StringVar(&opts.telemetrySubject, "telemetry-subject", "fleet.telemetry", "telemetry subject root")
	flags.StringVar(&opts.commandPrefix, "command-prefix", "fleet.commands", "command subject prefix")
	flags.StringVar(&opts.contentType, "content-type", ingest.ContentTypeCBOR, "telemetry encoding")
	flags.Float64Var(&opts.lat, "lat", 47.3769, "home latitude")
	flags.Float64Var(&opts.lng, "lng", 8.5417, "home longitude")
	_ = flags.Parse(os.Args[1:])

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(opts, logger); err != nil {
		logger.Error("simulator stopped", "error", err)
		os.Exit(1)
	}
}

func run(opts options, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(opts.natsURL, nats.Name("dronesim"))
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer nc.Drain()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.drones; i++ {
		d := newSimDrone(fmt.Sprintf("%s%03d", opts.idPrefix, i+1), opts)
		sub, err := nc.Subscribe(opts.commandPrefix+"."+d.id, d.onCommand)
		if err != nil {
			return fmt.Errorf("subscribe commands for %s: %w", d.id, err)
		}
		defer sub.Unsubscribe()
		g.Go(func() error {
			return d.fly(ctx, nc, opts, logger)
		})
	}
	logger.Info("simulating drones", "count", opts.drones, "interval", opts.interval)
	return g.Wait()
}

type simDrone struct {
	id string

	mu       sync.Mutex
	mode     string
	battery  float64
	lat, lng float64
	alt      float64
	acks     []ingest.Ack
}

func newSimDrone(id string, opts options) *simDrone {
	return &simDrone{
		id:      id,
		mode:    "IDLE",
		battery: 60 + rand.Float64()*40,
		lat:     opts.lat + (rand.Float64()-0.5)*0.01,
		lng:     opts.lng + (rand.Float64()-0.5)*0.01,
	}
}

var commandModes = map[string]string{
	"TAKEOFF":        "AUTO",
	"LAND":           "IDLE",
	"PAUSE":          "GUIDED",
	"RESUME":         "AUTO",
	"RTL":            "RTL",
	"EMERGENCY_STOP": "EMERGENCY_STOPPED",
	"RESET":          "IDLE",
}

func (d *simDrone) onCommand(msg *nats.Msg) {
	var cmd natsapi.CommandMessage
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if cmd.Kind == "GOTO_WAYPOINT" && cmd.Waypoint != nil {
		d.lat, d.lng, d.alt = cmd.Waypoint.Lat, cmd.Waypoint.Lng, cmd.Waypoint.Altitude
		d.acks = append(d.acks, ingest.Ack{CommandID: cmd.CommandID, Result: "COMPLETED"})
		return
	}
	mode, ok := commandModes[cmd.Kind]
	if !ok {
		d.acks = append(d.acks, ingest.Ack{CommandID: cmd.CommandID, Result: "REJECTED", Detail: "unsupported"})
		return
	}
	d.mode = mode
	switch mode {
	case "AUTO":
		d.alt = 30
	case "IDLE", "EMERGENCY_STOPPED":
		d.alt = 0
	}
	d.acks = append(d.acks, ingest.Ack{CommandID: cmd.CommandID, Result: "ACCEPTED"})
}

func (d *simDrone) fly(ctx context.Context, nc *nats.Conn, opts options, logger *slog.Logger) error {
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	subject := opts.telemetrySubject + "." + d.id
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			msg := nats.NewMsg(subject)
			msg.Header.Set("Content-Type", opts.contentType)
			data, err := ingest.Encode(opts.contentType, d.step(now))
			if err != nil {
				return err
			}
			msg.Data = data
			if err := nc.PublishMsg(msg); err != nil {
				logger.Warn("publish telemetry failed", "drone_id", d.id, "error", err)
			}
		}
	}
}

// step advances the simulation by one interval and returns the sample to
// report. At most one pending ack rides on each sample.
func (d *simDrone) step(now time.Time) ingest.Sample {
	d.mu.Lock()
	defer d.mu.Unlock()

	charging := d.mode == "IDLE"
	switch {
	case charging:
		d.battery = min(100, d.battery+0.5)
	case d.mode != "EMERGENCY_STOPPED":
		d.battery = max(0, d.battery-0.2)
		d.lat += (rand.Float64() - 0.5) * 0.0002
		d.lng += (rand.Float64() - 0.5) * 0.0002
	}
	battery := d.battery
	strength := 50 + rand.Float64()*50
	sample := ingest.Sample{
		DroneID:        d.id,
		Timestamp:      now.UTC(),
		Battery:        &battery,
		Charging:       charging,
		Position:       &ingest.Position{Lat: d.lat, Lng: d.lng, Altitude: d.alt},
		Mode:           d.mode,
		SignalStrength: &strength,
		Errors:         []string{},
	}
	if len(d.acks) > 0 {
		ack := d.acks[0]
		d.acks = d.acks[1:]
		sample.CommandAck = &ack
	}
	return sample
}
