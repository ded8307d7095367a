package thriftapi

import (
	"context"

	"github.com/apache/thrift/lib/go/thrift"

	"agrosentry/internal/domain"
	"agrosentry/internal/transport"
)

// readArgs walks <Method>_args { 1: <Request> request } and hands every
// field of the request struct to field, which must consume or skip it.
func readArgs(ctx context.Context, in thrift.TProtocol, field func(fid int16, ft thrift.TType) error) error {
	if _, err := in.ReadStructBegin(ctx); err != nil {
		return err
	}
	for {
		_, fieldType, fieldID, err := in.ReadFieldBegin(ctx)
		if err != nil {
			return err
		}
		if fieldType == thrift.STOP {
			break
		}
		if fieldID == 1 && fieldType == thrift.STRUCT {
			if err := readStruct(ctx, in, field); err != nil {
				return err
			}
		} else if err := in.Skip(ctx, fieldType); err != nil {
			return err
		}
		if err := in.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}
	if err := in.ReadStructEnd(ctx); err != nil {
		return err
	}
	return in.ReadMessageEnd(ctx)
}

func readStruct(ctx context.Context, in thrift.TProtocol, field func(fid int16, ft thrift.TType) error) error {
	if _, err := in.ReadStructBegin(ctx); err != nil {
		return err
	}
	for {
		_, ft, fid, err := in.ReadFieldBegin(ctx)
		if err != nil {
			return err
		}
		if ft == thrift.STOP {
			break
		}
		if err := field(fid, ft); err != nil {
			return err
		}
		if err := in.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}
	return in.ReadStructEnd(ctx)
}

// readTokenAndID serves every request shaped { 1: token, 2: id }.
func readTokenAndID(ctx context.Context, in thrift.TProtocol) (string, string, error) {
	var token, id string
	err := readArgs(ctx, in, func(fid int16, ft thrift.TType) (err error) {
		switch {
		case fid == 1 && ft == thrift.STRING:
			token, err = in.ReadString(ctx)
		case fid == 2 && ft == thrift.STRING:
			id, err = in.ReadString(ctx)
		default:
			err = in.Skip(ctx, ft)
		}
		return err
	})
	return token, id, err
}

func readWaypoint(ctx context.Context, in thrift.TProtocol) (transport.Waypoint, error) {
	var wp transport.Waypoint
	err := readStruct(ctx, in, func(fid int16, ft thrift.TType) (err error) {
		switch {
		case fid == 1 && ft == thrift.STRING:
			wp.ID, err = in.ReadString(ctx)
		case fid == 2 && ft == thrift.DOUBLE:
			wp.Lat, err = in.ReadDouble(ctx)
		case fid == 3 && ft == thrift.DOUBLE:
			wp.Lng, err = in.ReadDouble(ctx)
		case fid == 4 && ft == thrift.DOUBLE:
			wp.Altitude, err = in.ReadDouble(ctx)
		case fid == 5 && ft == thrift.STRING:
			wp.Action, err = in.ReadString(ctx)
		default:
			err = in.Skip(ctx, ft)
		}
		return err
	})
	return wp, err
}

func writeStruct(ctx context.Context, out thrift.TProtocol, name string, fields func() error) error {
	if err := out.WriteStructBegin(ctx, name); err != nil {
		return err
	}
	if err := fields(); err != nil {
		return err
	}
	if err := out.WriteFieldStop(ctx); err != nil {
		return err
	}
	return out.WriteStructEnd(ctx)
}

func writeField(ctx context.Context, out thrift.TProtocol, name string, ft thrift.TType, id int16, value func() error) error {
	if err := out.WriteFieldBegin(ctx, name, ft, id); err != nil {
		return err
	}
	if err := value(); err != nil {
		return err
	}
	return out.WriteFieldEnd(ctx)
}

func writeString(ctx context.Context, out thrift.TProtocol, name string, id int16, v string) error {
	return writeField(ctx, out, name, thrift.STRING, id, func() error { return out.WriteString(ctx, v) })
}

func writeDouble(ctx context.Context, out thrift.TProtocol, name string, id int16, v float64) error {
	return writeField(ctx, out, name, thrift.DOUBLE, id, func() error { return out.WriteDouble(ctx, v) })
}

func writeI64(ctx context.Context, out thrift.TProtocol, name string, id int16, v int64) error {
	return writeField(ctx, out, name, thrift.I64, id, func() error { return out.WriteI64(ctx, v) })
}

func writeBool(ctx context.Context, out thrift.TProtocol, name string, id int16, v bool) error {
	return writeField(ctx, out, name, thrift.BOOL, id, func() error { return out.WriteBool(ctx, v) })
}

func writePosition(ctx context.Context, out thrift.TProtocol, pos domain.Position) error {
	return writeStruct(ctx, out, "Position", func() error {
		if err := writeDouble(ctx, out, "lat", 1, pos.Lat); err != nil {
			return err
		}
		if err := writeDouble(ctx, out, "lng", 2, pos.Lng); err != nil {
			return err
		}
		return writeDouble(ctx, out, "altitude", 3, pos.Altitude)
	})
}

func writeWaypoint(ctx context.Context, out thrift.TProtocol, wp domain.Waypoint) error {
	return writeStruct(ctx, out, "Waypoint", func() error {
		if err := writeString(ctx, out, "id", 1, wp.ID); err != nil {
			return err
		}
		if err := writeDouble(ctx, out, "lat", 2, wp.Lat); err != nil {
			return err
		}
		if err := writeDouble(ctx, out, "lng", 3, wp.Lng); err != nil {
			return err
		}
		if err := writeDouble(ctx, out, "altitude", 4, wp.Altitude); err != nil {
			return err
		}
		if wp.Action != "" {
			return writeString(ctx, out, "action", 5, wp.Action)
		}
		return nil
	})
}

func writeCommand(ctx context.Context, out thrift.TProtocol, cmd domain.Command) error {
	return writeStruct(ctx, out, "Command", func() error {
		if err := writeString(ctx, out, "id", 1, cmd.ID); err != nil {
			return err
		}
		if err := writeString(ctx, out, "droneId", 2, cmd.DroneID); err != nil {
			return err
		}
		if err := writeString(ctx, out, "kind", 3, string(cmd.Kind)); err != nil {
			return err
		}
		if err := writeString(ctx, out, "state", 4, string(cmd.State)); err != nil {
			return err
		}
		if cmd.TargetMode != "" {
			if err := writeString(ctx, out, "targetMode", 5, string(cmd.TargetMode)); err != nil {
				return err
			}
		}
		if cmd.Waypoint != nil {
			wp := *cmd.Waypoint
			if err := writeField(ctx, out, "waypoint", thrift.STRUCT, 6, func() error { return writeWaypoint(ctx, out, wp) }); err != nil {
				return err
			}
		}
		if err := writeBool(ctx, out, "missionOriginated", 7, cmd.MissionOriginated); err != nil {
			return err
		}
		if cmd.Reason != "" {
			if err := writeString(ctx, out, "reason", 8, cmd.Reason); err != nil {
				return err
			}
		}
		if err := writeI64(ctx, out, "issuedAtMillis", 9, millis(cmd.IssuedAt)); err != nil {
			return err
		}
		if err := writeI64(ctx, out, "deadlineMillis", 10, millis(cmd.Deadline)); err != nil {
			return err
		}
		if cmd.AckedAt != nil {
			if err := writeI64(ctx, out, "ackedAtMillis", 11, millis(*cmd.AckedAt)); err != nil {
				return err
			}
		}
		if cmd.ResolvedAt != nil {
			return writeI64(ctx, out, "resolvedAtMillis", 12, millis(*cmd.ResolvedAt))
		}
		return nil
	})
}

func writeDrone(ctx context.Context, out thrift.TProtocol, d domain.Drone) error {
	return writeStruct(ctx, out, "Drone", func() error {
		if err := writeString(ctx, out, "id", 1, d.ID); err != nil {
			return err
		}
		if err := writeString(ctx, out, "mode", 2, string(d.Mode)); err != nil {
			return err
		}
		if err := writeString(ctx, out, "connectivity", 3, string(d.Connectivity)); err != nil {
			return err
		}
		if err := writeDouble(ctx, out, "battery", 4, d.Battery); err != nil {
			return err
		}
		if d.Position != nil {
			pos := *d.Position
			if err := writeField(ctx, out, "position", thrift.STRUCT, 5, func() error { return writePosition(ctx, out, pos) }); err != nil {
				return err
			}
		}
		if d.SignalStrength != nil {
			if err := writeDouble(ctx, out, "signalStrength", 6, *d.SignalStrength); err != nil {
				return err
			}
		}
		err := writeField(ctx, out, "errors", thrift.LIST, 7, func() error {
			if err := out.WriteListBegin(ctx, thrift.STRING, len(d.Errors)); err != nil {
				return err
			}
			for _, code := range d.Errors {
				if err := out.WriteString(ctx, code); err != nil {
					return err
				}
			}
			return out.WriteListEnd(ctx)
		})
		if err != nil {
			return err
		}
		if err := writeI64(ctx, out, "lastSeenAtMillis", 8, millis(d.LastSeenAt)); err != nil {
			return err
		}
		if d.ActiveCommand != nil {
			cmd := *d.ActiveCommand
			if err := writeField(ctx, out, "activeCommand", thrift.STRUCT, 9, func() error { return writeCommand(ctx, out, cmd) }); err != nil {
				return err
			}
		}
		return writeI64(ctx, out, "createdAtMillis", 10, millis(d.CreatedAt))
	})
}
