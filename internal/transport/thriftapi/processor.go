package thriftapi

import (
	"context"
	"errors"
	"time"

	"github.com/apache/thrift/lib/go/thrift"

	"agrosentry/internal/auth"
	"agrosentry/internal/domain"
	"agrosentry/internal/fleet"
	"agrosentry/internal/ingest"
	"agrosentry/internal/transport"
)

// Processor is a hand-written TProcessor for the FleetService contract in
// fleet.thrift.
type Processor struct {
	engine       *fleet.Engine
	ingest       *ingest.Adapter
	auth         *auth.Authenticator
	processorMap map[string]thrift.TProcessorFunction
}

type handlerFunc func(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException)

type processorFunc struct {
	fn handlerFunc
}

func (p processorFunc) Process(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	return p.fn(ctx, seqID, in, out)
}

func NewProcessor(engine *fleet.Engine, authenticator *auth.Authenticator) *Processor {
	p := &Processor{engine: engine, ingest: ingest.NewAdapter(engine), auth: authenticator}
	p.processorMap = map[string]thrift.TProcessorFunction{
		"IssueToken":    processorFunc{fn: p.handleIssueToken},
		"PushTelemetry": processorFunc{fn: p.handlePushTelemetry},
		"IssueCommand":  processorFunc{fn: p.handleIssueCommand},
		"CommandStatus": processorFunc{fn: p.handleCommandStatus},
		"QueryDrone":    processorFunc{fn: p.handleQueryDrone},
		"ListDrones":    processorFunc{fn: p.handleListDrones},
	}
	return p
}

func (p *Processor) ProcessorMap() map[string]thrift.TProcessorFunction {
	return p.processorMap
}

func (p *Processor) AddToProcessorMap(name string, processor thrift.TProcessorFunction) {
	p.processorMap[name] = processor
}

func (p *Processor) Process(ctx context.Context, in, out thrift.TProtocol) (bool, thrift.TException) {
	name, messageType, seqID, err := in.ReadMessageBegin(ctx)
	if err != nil {
		return false, thrift.NewTApplicationException(thrift.PROTOCOL_ERROR, err.Error())
	}
	if messageType != thrift.CALL && messageType != thrift.ONEWAY {
		return p.writeException(ctx, out, name, seqID, thrift.NewTApplicationException(thrift.INVALID_MESSAGE_TYPE_EXCEPTION, "invalid message type"))
	}
	processor, ok := p.processorMap[name]
	if !ok {
		_ = in.Skip(ctx, thrift.STRUCT)
		_ = in.ReadMessageEnd(ctx)
		return p.writeException(ctx, out, name, seqID, thrift.NewTApplicationException(thrift.UNKNOWN_METHOD, "unknown method"))
	}
	return processor.Process(ctx, seqID, in, out)
}

func (p *Processor) handleIssueToken(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	var name, role string
	err := readArgs(ctx, in, func(fid int16, ft thrift.TType) (err error) {
		switch {
		case fid == 1 && ft == thrift.STRING:
			name, err = in.ReadString(ctx)
		case fid == 2 && ft == thrift.STRING:
			role, err = in.ReadString(ctx)
		default:
			err = in.Skip(ctx, ft)
		}
		return err
	})
	if err != nil {
		return p.writeException(ctx, out, "IssueToken", seqID, protocolError(err))
	}
	token, exp, err := p.auth.IssueToken(name, role)
	if err != nil {
		return p.writeException(ctx, out, "IssueToken", seqID, mapError(err))
	}
	return p.writeReply(ctx, out, "IssueToken", seqID, thrift.STRUCT, func(out thrift.TProtocol) error {
		return writeStruct(ctx, out, "TokenResponse", func() error {
			if err := writeString(ctx, out, "token", 1, token); err != nil {
				return err
			}
			return writeI64(ctx, out, "expiresAt", 2, exp.Unix())
		})
	})
}

func (p *Processor) handlePushTelemetry(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	var (
		token, contentType string
		payload            []byte
	)
	err := readArgs(ctx, in, func(fid int16, ft thrift.TType) (err error) {
		switch {
		case fid == 1 && ft == thrift.STRING:
			token, err = in.ReadString(ctx)
		case fid == 2 && ft == thrift.STRING:
			payload, err = in.ReadBinary(ctx)
		case fid == 3 && ft == thrift.STRING:
			contentType, err = in.ReadString(ctx)
		default:
			err = in.Skip(ctx, ft)
		}
		return err
	})
	if err != nil {
		return p.writeException(ctx, out, "PushTelemetry", seqID, protocolError(err))
	}
	claims, appErr := p.authorize(token, domain.RoleDrone)
	if appErr != nil {
		return p.writeException(ctx, out, "PushTelemetry", seqID, appErr)
	}
	sample, err := ingest.Decode(contentType, payload)
	if err != nil {
		return p.writeException(ctx, out, "PushTelemetry", seqID, mapError(err))
	}
	if !auth.CanReport(claims, sample.DroneID) {
		return p.writeException(ctx, out, "PushTelemetry", seqID, mapError(domain.ErrForbidden))
	}
	event, err := p.ingest.SubmitSample(sample)
	if err != nil {
		return p.writeException(ctx, out, "PushTelemetry", seqID, mapError(err))
	}
	return p.writeReply(ctx, out, "PushTelemetry", seqID, thrift.STRUCT, func(out thrift.TProtocol) error {
		return writeStruct(ctx, out, "TelemetryAccepted", func() error {
			if err := writeString(ctx, out, "droneId", 1, event.DroneID); err != nil {
				return err
			}
			return writeI64(ctx, out, "timestampMillis", 2, event.Timestamp.UnixMilli())
		})
	})
}

func (p *Processor) handleIssueCommand(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	var (
		token, droneID string
		req            transport.CommandRequest
	)
	err := readArgs(ctx, in, func(fid int16, ft thrift.TType) (err error) {
		switch {
		case fid == 1 && ft == thrift.STRING:
			token, err = in.ReadString(ctx)
		case fid == 2 && ft == thrift.STRING:
			droneID, err = in.ReadString(ctx)
		case fid == 3 && ft == thrift.STRING:
			req.Kind, err = in.ReadString(ctx)
		case fid == 4 && ft == thrift.STRUCT:
			var wp transport.Waypoint
			wp, err = readWaypoint(ctx, in)
			req.Waypoint = &wp
		case fid == 5 && ft == thrift.I32:
			var secs int32
			secs, err = in.ReadI32(ctx)
			req.TimeoutSeconds = int(secs)
		default:
			err = in.Skip(ctx, ft)
		}
		return err
	})
	if err != nil {
		return p.writeException(ctx, out, "IssueCommand", seqID, protocolError(err))
	}
	if _, appErr := p.authorize(token, domain.RoleOperator); appErr != nil {
		return p.writeException(ctx, out, "IssueCommand", seqID, appErr)
	}
	params, err := req.Params()
	if err != nil {
		return p.writeException(ctx, out, "IssueCommand", seqID, mapError(err))
	}
	cmd, err := p.engine.IssueCommand(ctx, droneID, params)
	if err != nil {
		return p.writeException(ctx, out, "IssueCommand", seqID, mapError(err))
	}
	return p.writeReply(ctx, out, "IssueCommand", seqID, thrift.STRUCT, func(out thrift.TProtocol) error {
		return writeCommand(ctx, out, cmd)
	})
}

func (p *Processor) handleCommandStatus(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	token, commandID, err := readTokenAndID(ctx, in)
	if err != nil {
		return p.writeException(ctx, out, "CommandStatus", seqID, protocolError(err))
	}
	if _, appErr := p.authorize(token, domain.RoleOperator); appErr != nil {
		return p.writeException(ctx, out, "CommandStatus", seqID, appErr)
	}
	cmd, err := p.engine.CommandStatus(commandID)
	if err != nil {
		return p.writeException(ctx, out, "CommandStatus", seqID, mapError(err))
	}
	return p.writeReply(ctx, out, "CommandStatus", seqID, thrift.STRUCT, func(out thrift.TProtocol) error {
		return writeCommand(ctx, out, cmd)
	})
}

func (p *Processor) handleQueryDrone(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	token, droneID, err := readTokenAndID(ctx, in)
	if err != nil {
		return p.writeException(ctx, out, "QueryDrone", seqID, protocolError(err))
	}
	if _, appErr := p.authorize(token, domain.RoleOperator); appErr != nil {
		return p.writeException(ctx, out, "QueryDrone", seqID, appErr)
	}
	d, err := p.engine.QueryDrone(droneID)
	if err != nil {
		return p.writeException(ctx, out, "QueryDrone", seqID, mapError(err))
	}
	return p.writeReply(ctx, out, "QueryDrone", seqID, thrift.STRUCT, func(out thrift.TProtocol) error {
		return writeDrone(ctx, out, d)
	})
}

func (p *Processor) handleListDrones(ctx context.Context, seqID int32, in, out thrift.TProtocol) (bool, thrift.TException) {
	token, _, err := readTokenAndID(ctx, in)
	if err != nil {
		return p.writeException(ctx, out, "ListDrones", seqID, protocolError(err))
	}
	if _, appErr := p.authorize(token, domain.RoleOperator); appErr != nil {
		return p.writeException(ctx, out, "ListDrones", seqID, appErr)
	}
	drones := p.engine.ListDrones()
	return p.writeReply(ctx, out, "ListDrones", seqID, thrift.LIST, func(out thrift.TProtocol) error {
		if err := out.WriteListBegin(ctx, thrift.STRUCT, len(drones)); err != nil {
			return err
		}
		for _, d := range drones {
			if err := writeDrone(ctx, out, d); err != nil {
				return err
			}
		}
		return out.WriteListEnd(ctx)
	})
}

func (p *Processor) authorize(token string, roles ...string) (*auth.Claims, thrift.TApplicationException) {
	claims, err := p.auth.ParseToken(token)
	if err != nil {
		return nil, mapError(domain.ErrUnauthorized)
	}
	if !auth.Allow(claims, roles...) {
		return nil, mapError(domain.ErrForbidden)
	}
	return claims, nil
}

// writeReply frames a successful result as field 0 of <method>_result.
func (p *Processor) writeReply(ctx context.Context, out thrift.TProtocol, method string, seqID int32, successType thrift.TType, writeSuccess func(out thrift.TProtocol) error) (bool, thrift.TException) {
	if err := out.WriteMessageBegin(ctx, method, thrift.REPLY, seqID); err != nil {
		return false, protocolError(err)
	}
	if err := out.WriteStructBegin(ctx, method+"_result"); err != nil {
		return false, protocolError(err)
	}
	if err := out.WriteFieldBegin(ctx, "success", successType, 0); err != nil {
		return false, protocolError(err)
	}
	if err := writeSuccess(out); err != nil {
		return false, protocolError(err)
	}
	if err := out.WriteFieldEnd(ctx); err != nil {
		return false, protocolError(err)
	}
	if err := out.WriteFieldStop(ctx); err != nil {
		return false, protocolError(err)
	}
	if err := out.WriteStructEnd(ctx); err != nil {
		return false, protocolError(err)
	}
	if err := out.WriteMessageEnd(ctx); err != nil {
		return false, protocolError(err)
	}
	if err := out.Flush(ctx); err != nil {
		return false, protocolError(err)
	}
	return true, nil
}

func (p *Processor) writeException(ctx context.Context, out thrift.TProtocol, method string, seqID int32, appErr thrift.TApplicationException) (bool, thrift.TException) {
	_ = out.WriteMessageBegin(ctx, method, thrift.EXCEPTION, seqID)
	_ = appErr.Write(ctx, out)
	_ = out.WriteMessageEnd(ctx)
	_ = out.Flush(ctx)
	return false, appErr
}

func protocolError(err error) thrift.TApplicationException {
	return thrift.NewTApplicationException(thrift.PROTOCOL_ERROR, err.Error())
}

// mapError keeps the domain error code in the exception message so
// clients can branch on it.
func mapError(err error) thrift.TApplicationException {
	var rejected *domain.RejectedError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return thrift.NewTApplicationException(thrift.UNKNOWN_APPLICATION_EXCEPTION, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		return thrift.NewTApplicationException(thrift.UNKNOWN_APPLICATION_EXCEPTION, "forbidden")
	case errors.Is(err, domain.ErrNotFound):
		return thrift.NewTApplicationException(thrift.UNKNOWN_APPLICATION_EXCEPTION, "not_found")
	case errors.Is(err, domain.ErrCommandBusy):
		return thrift.NewTApplicationException(thrift.UNKNOWN_APPLICATION_EXCEPTION, "command_busy")
	case errors.Is(err, domain.ErrDroneLost):
		return thrift.NewTApplicationException(thrift.UNKNOWN_APPLICATION_EXCEPTION, "drone_lost")
	case errors.Is(err, domain.ErrInvalidTransition):
		return thrift.NewTApplicationException(thrift.UNKNOWN_APPLICATION_EXCEPTION, "invalid_transition")
	case errors.As(err, &rejected):
		return thrift.NewTApplicationException(thrift.UNKNOWN_APPLICATION_EXCEPTION, "rejected: "+rejected.Reason)
	case errors.Is(err, domain.ErrInvalid):
		return thrift.NewTApplicationException(thrift.UNKNOWN_APPLICATION_EXCEPTION, "invalid")
	case errors.Is(err, domain.ErrOverloaded):
		return thrift.NewTApplicationException(thrift.UNKNOWN_APPLICATION_EXCEPTION, "overloaded")
	case errors.Is(err, domain.ErrClosed):
		return thrift.NewTApplicationException(thrift.UNKNOWN_APPLICATION_EXCEPTION, "closed")
	default:
		return thrift.NewTApplicationException(thrift.INTERNAL_ERROR, "internal error")
	}
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
