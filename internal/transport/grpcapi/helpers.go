package grpcapi

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"agrosentry/internal/auth"
	"agrosentry/internal/domain"
)

func getClaims(ctx context.Context) (*auth.Claims, error) {
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	return claims, nil
}

func requireRole(ctx context.Context, roles ...string) (*auth.Claims, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}
	if !auth.Allow(claims, roles...) {
		return nil, status.Error(codes.PermissionDenied, "forbidden")
	}
	return claims, nil
}

func bearerFromMetadata(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if values := md.Get("authorization"); len(values) > 0 {
		return values[0]
	}
	return ""
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context {
	return s.ctx
}

func mapServiceError(err error) error {
	var rejected *domain.RejectedError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, domain.ErrCommandBusy):
		return status.Error(codes.Aborted, "command busy")
	case errors.Is(err, domain.ErrDroneLost):
		return status.Error(codes.Unavailable, "drone lost")
	case errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, "invalid transition")
	case errors.As(err, &rejected):
		return status.Error(codes.FailedPrecondition, "rejected: "+rejected.Reason)
	case errors.Is(err, domain.ErrInvalid):
		return status.Error(codes.InvalidArgument, "invalid request")
	case errors.Is(err, domain.ErrOverloaded):
		return status.Error(codes.ResourceExhausted, "overloaded")
	case errors.Is(err, domain.ErrClosed):
		return status.Error(codes.Unavailable, "shutting down")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
