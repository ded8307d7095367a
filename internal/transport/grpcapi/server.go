package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"agrosentry/internal/auth"
	"agrosentry/internal/domain"
	"agrosentry/internal/fleet"
	"agrosentry/internal/ingest"
	"agrosentry/internal/transport"
)

type Server struct {
	engine *fleet.Engine
	ingest *ingest.Adapter
	auth   *auth.Authenticator
}

func NewServer(engine *fleet.Engine, authenticator *auth.Authenticator) *grpc.Server {
	server := &Server{engine: engine, ingest: ingest.NewAdapter(engine), auth: authenticator}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.authInterceptor()),
		grpc.StreamInterceptor(server.streamAuthInterceptor()),
	)
	grpcServer.RegisterService(&fleetServiceDesc, server)
	return grpcServer
}

func (s *Server) authInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if info.FullMethod == methodIssueToken {
			return handler(ctx, req)
		}
		claims, err := s.auth.Authenticate(bearerFromMetadata(ctx))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(auth.ContextWithClaims(ctx, claims), req)
	}
}

func (s *Server) streamAuthInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		claims, err := s.auth.Authenticate(bearerFromMetadata(ss.Context()))
		if err != nil {
			return status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: auth.ContextWithClaims(ss.Context(), claims)})
	}
}

func (s *Server) IssueToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	token, exp, err := s.auth.IssueToken(req.Name, req.Role)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &TokenResponse{Token: token, ExpiresAt: exp.Format(time.RFC3339)}, nil
}

func (s *Server) PushTelemetry(ctx context.Context, req *ingest.Sample) (*TelemetryAccepted, error) {
	claims, err := requireRole(ctx, domain.RoleDrone)
	if err != nil {
		return nil, err
	}
	if !auth.CanReport(claims, req.DroneID) {
		return nil, status.Error(codes.PermissionDenied, "forbidden")
	}
	event, err := s.ingest.SubmitSample(*req)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &TelemetryAccepted{DroneID: event.DroneID, Timestamp: event.Timestamp.Format(time.RFC3339Nano)}, nil
}

func (s *Server) IssueCommand(ctx context.Context, req *IssueCommandRequest) (*transport.CommandResponse, error) {
	if _, err := requireRole(ctx, domain.RoleOperator); err != nil {
		return nil, err
	}
	params, err := req.Params()
	if err != nil {
		return nil, mapServiceError(err)
	}
	cmd, err := s.engine.IssueCommand(ctx, req.DroneID, params)
	if err != nil {
		return nil, mapServiceError(err)
	}
	resp := transport.FromCommand(cmd)
	return &resp, nil
}

func (s *Server) CommandStatus(ctx context.Context, req *CommandIDRequest) (*transport.CommandResponse, error) {
	if _, err := requireRole(ctx, domain.RoleOperator); err != nil {
		return nil, err
	}
	cmd, err := s.engine.CommandStatus(req.CommandID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	resp := transport.FromCommand(cmd)
	return &resp, nil
}

func (s *Server) QueryDrone(ctx context.Context, req *DroneIDRequest) (*transport.DroneResponse, error) {
	if _, err := requireRole(ctx, domain.RoleOperator); err != nil {
		return nil, err
	}
	d, err := s.engine.QueryDrone(req.DroneID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	resp := transport.FromDrone(d)
	return &resp, nil
}

func (s *Server) ListDrones(ctx context.Context, _ *Empty) (*ListDronesResponse, error) {
	if _, err := requireRole(ctx, domain.RoleOperator); err != nil {
		return nil, err
	}
	return &ListDronesResponse{Drones: transport.FromDrones(s.engine.ListDrones())}, nil
}

func (s *Server) GetMission(ctx context.Context, req *DroneIDRequest) (*transport.MissionResponse, error) {
	if _, err := requireRole(ctx, domain.RoleOperator); err != nil {
		return nil, err
	}
	m, err := s.engine.GetMission(req.DroneID)
	return missionResponse(m, err)
}

func (s *Server) ReplanMission(ctx context.Context, req *ReplanRequest) (*transport.MissionResponse, error) {
	if _, err := requireRole(ctx, domain.RoleOperator); err != nil {
		return nil, err
	}
	m, err := s.engine.ReplanMission(ctx, req.DroneID, transport.ToWaypoints(req.Waypoints))
	return missionResponse(m, err)
}

func (s *Server) StartMission(ctx context.Context, req *DroneIDRequest) (*transport.MissionResponse, error) {
	if _, err := requireRole(ctx, domain.RoleOperator); err != nil {
		return nil, err
	}
	m, err := s.engine.StartMission(ctx, req.DroneID)
	return missionResponse(m, err)
}

func (s *Server) PauseMission(ctx context.Context, req *DroneIDRequest) (*transport.MissionResponse, error) {
	if _, err := requireRole(ctx, domain.RoleOperator); err != nil {
		return nil, err
	}
	m, err := s.engine.PauseMission(ctx, req.DroneID)
	return missionResponse(m, err)
}

func (s *Server) ResumeMission(ctx context.Context, req *DroneIDRequest) (*transport.MissionResponse, error) {
	if _, err := requireRole(ctx, domain.RoleOperator); err != nil {
		return nil, err
	}
	m, err := s.engine.ResumeMission(ctx, req.DroneID)
	return missionResponse(m, err)
}

func (s *Server) AbortMission(ctx context.Context, req *DroneIDRequest) (*transport.MissionResponse, error) {
	if _, err := requireRole(ctx, domain.RoleOperator); err != nil {
		return nil, err
	}
	m, err := s.engine.AbortMission(ctx, req.DroneID)
	return missionResponse(m, err)
}

// Subscribe streams fleet snapshots until the client goes away or the
// engine shuts down.
func (s *Server) Subscribe(_ *Empty, stream grpc.ServerStream) error {
	if _, err := requireRole(stream.Context(), domain.RoleOperator); err != nil {
		return err
	}
	sub := s.engine.Subscribe()
	defer sub.Close()
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				return status.Error(codes.Unavailable, "engine closed")
			}
			resp := transport.FromSnapshot(snap)
			if err := stream.SendMsg(&resp); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func missionResponse(m domain.Mission, err error) (*transport.MissionResponse, error) {
	if err != nil {
		return nil, mapServiceError(err)
	}
	resp := transport.FromMission(m)
	return &resp, nil
}

var _ FleetService = (*Server)(nil)
