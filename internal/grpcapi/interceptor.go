package grpcapi

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"vendoraccess.org/internal/access"
	"vendoraccess.org/internal/auth"
)

// Rule is the (category, level) a gRPC method requires.
type Rule struct {
	Category access.Category
	Level    access.Level
}

// Rules maps full method names ("/pkg.Service/Method") to their requirement.
// Methods without a rule are not vendor-facing and pass through.
type Rules map[string]Rule

type decisionKey struct{}

// DecisionFromContext returns the allowed decision attached by the interceptors.
func DecisionFromContext(ctx context.Context) (access.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(access.Decision)
	return d, ok
}

// UnaryVendorAccess enforces vendor grants on unary calls.
func UnaryVendorAccess(authz access.Authorizer, rules Rules) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		rule, ok := rules[info.FullMethod]
		if !ok {
			return handler(ctx, req)
		}
		ctx, err := authorize(ctx, authz, info.FullMethod, rule)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamVendorAccess enforces vendor grants when a stream opens.
func StreamVendorAccess(authz access.Authorizer, rules Rules) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		rule, ok := rules[info.FullMethod]
		if !ok {
			return handler(srv, ss)
		}
		ctx, err := authorize(ss.Context(), authz, info.FullMethod, rule)
		if err != nil {
			return err
		}
		return handler(srv, &authorizedStream{ServerStream: ss, ctx: ctx})
	}
}

type authorizedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authorizedStream) Context() context.Context { return s.ctx }

func authorize(ctx context.Context, authz access.Authorizer, method string, rule Rule) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var token string
	if vals := md.Get("authorization"); len(vals) > 0 {
		token, _ = auth.BearerToken(vals[0])
	}
	if token == "" {
		return ctx, status.Error(codes.Unauthenticated, access.ReasonInvalidToken)
	}
	var userAgent string
	if vals := md.Get("user-agent"); len(vals) > 0 {
		userAgent = vals[0]
	}
	d := authz.ValidateAccess(ctx, access.AccessRequest{
		RawToken:  token,
		Category:  rule.Category,
		Level:     rule.Level,
		Endpoint:  method,
		IPAddress: peerIP(ctx),
		UserAgent: userAgent,
	})
	if !d.Valid {
		return ctx, status.Error(denialCode(d.Reason), d.Reason)
	}
	return context.WithValue(ctx, decisionKey{}, d), nil
}

func denialCode(reason string) codes.Code {
	switch reason {
	case access.ReasonInsufficientRole, access.ReasonAddressDenied:
		return codes.PermissionDenied
	case access.ReasonMalformed:
		return codes.InvalidArgument
	case access.ReasonUnavailable:
		return codes.Unavailable
	}
	return codes.Unauthenticated
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
