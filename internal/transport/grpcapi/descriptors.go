package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"agrosentry/internal/ingest"
	"agrosentry/internal/transport"
)

const serviceName = "fleet.FleetService"

const (
	methodIssueToken = "/" + serviceName + "/IssueToken"
	methodSubscribe  = "/" + serviceName + "/Subscribe"
)

// FleetService mirrors the engine API. Messages are JSON encoded.
type FleetService interface {
	IssueToken(context.Context, *TokenRequest) (*TokenResponse, error)
	PushTelemetry(context.Context, *ingest.Sample) (*TelemetryAccepted, error)
	IssueCommand(context.Context, *IssueCommandRequest) (*transport.CommandResponse, error)
	CommandStatus(context.Context, *CommandIDRequest) (*transport.CommandResponse, error)
	QueryDrone(context.Context, *DroneIDRequest) (*transport.DroneResponse, error)
	ListDrones(context.Context, *Empty) (*ListDronesResponse, error)
	GetMission(context.Context, *DroneIDRequest) (*transport.MissionResponse, error)
	ReplanMission(context.Context, *ReplanRequest) (*transport.MissionResponse, error)
	StartMission(context.Context, *DroneIDRequest) (*transport.MissionResponse, error)
	PauseMission(context.Context, *DroneIDRequest) (*transport.MissionResponse, error)
	ResumeMission(context.Context, *DroneIDRequest) (*transport.MissionResponse, error)
	AbortMission(context.Context, *DroneIDRequest) (*transport.MissionResponse, error)
	Subscribe(*Empty, grpc.ServerStream) error
}

var fleetServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FleetService)(nil),
	Methods: []grpc.MethodDesc{
		unary("IssueToken", (*Server).IssueToken),
		unary("PushTelemetry", (*Server).PushTelemetry),
		unary("IssueCommand", (*Server).IssueCommand),
		unary("CommandStatus", (*Server).CommandStatus),
		unary("QueryDrone", (*Server).QueryDrone),
		unary("ListDrones", (*Server).ListDrones),
		unary("GetMission", (*Server).GetMission),
		unary("ReplanMission", (*Server).ReplanMission),
		unary("StartMission", (*Server).StartMission),
		unary("PauseMission", (*Server).PauseMission),
		unary("ResumeMission", (*Server).ResumeMission),
		unary("AbortMission", (*Server).AbortMission),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "fleet.proto",
}

// SubscribeStreamDesc lets clients open the snapshot stream.
var SubscribeStreamDesc = grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}

// unary builds the method descriptor protoc would generate for one call.
func unary[Req, Resp any](name string, call func(*Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(*Server), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(*Server), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Server).Subscribe(in, stream)
}
