package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/glinharesb/sekeys/internal/audit"
)

// Service names. Messages are google.protobuf.Struct throughout, so the
// descriptors are declared here rather than generated.
const (
	KeyServiceName     = "sekeys.v1.KeyService"
	SigningServiceName = "sekeys.v1.SigningService"
	RandomServiceName  = "sekeys.v1.RandomService"
	AuditServiceName   = "sekeys.v1.AuditService"
)

// Full method names for clients.
const (
	MethodGenerateKey    = "/" + KeyServiceName + "/GenerateKey"
	MethodGetPublicKey   = "/" + KeyServiceName + "/GetPublicKey"
	MethodListKeys       = "/" + KeyServiceName + "/ListKeys"
	MethodDeleteKey      = "/" + KeyServiceName + "/DeleteKey"
	MethodWatchKeyEvents = "/" + KeyServiceName + "/WatchKeyEvents"
	MethodSign           = "/" + SigningServiceName + "/Sign"
	MethodStreamSign     = "/" + SigningServiceName + "/StreamSign"
	MethodGetRandom      = "/" + RandomServiceName + "/GetRandom"
	MethodQueryAudit     = "/" + AuditServiceName + "/QueryAudit"
	MethodStreamAudit    = "/" + AuditServiceName + "/StreamAudit"
)

type KeyServiceServer interface {
	GenerateKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPublicKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListKeys(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchKeyEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

type SigningServiceServer interface {
	Sign(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamSign(grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error
}

type RandomServiceServer interface {
	GetRandom(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type AuditServiceServer interface {
	QueryAudit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamAudit(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

func unary[S any](service, method string, call func(S, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func serverStream[S any](method string, call func(S, *structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    method,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(S), in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
		},
	}
}

func bidiStream[S any](method string, call func(S, grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    method,
		ServerStreams: true,
		ClientStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			return call(srv.(S), &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
		},
	}
}

var KeyServiceDesc = grpc.ServiceDesc{
	ServiceName: KeyServiceName,
	HandlerType: (*KeyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(KeyServiceName, "GenerateKey", KeyServiceServer.GenerateKey),
		unary(KeyServiceName, "GetPublicKey", KeyServiceServer.GetPublicKey),
		unary(KeyServiceName, "ListKeys", KeyServiceServer.ListKeys),
		unary(KeyServiceName, "DeleteKey", KeyServiceServer.DeleteKey),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchKeyEvents", KeyServiceServer.WatchKeyEvents),
	},
}

var SigningServiceDesc = grpc.ServiceDesc{
	ServiceName: SigningServiceName,
	HandlerType: (*SigningServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SigningServiceName, "Sign", SigningServiceServer.Sign),
	},
	Streams: []grpc.StreamDesc{
		bidiStream("StreamSign", SigningServiceServer.StreamSign),
	},
}

var RandomServiceDesc = grpc.ServiceDesc{
	ServiceName: RandomServiceName,
	HandlerType: (*RandomServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(RandomServiceName, "GetRandom", RandomServiceServer.GetRandom),
	},
}

var AuditServiceDesc = grpc.ServiceDesc{
	ServiceName: AuditServiceName,
	HandlerType: (*AuditServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(AuditServiceName, "QueryAudit", AuditServiceServer.QueryAudit),
	},
	Streams: []grpc.StreamDesc{
		serverStream("StreamAudit", AuditServiceServer.StreamAudit),
	},
}

// Services bundles the four service implementations.
type Services struct {
	Keys    *KeyServer
	Signing *SigningServer
	Random  *RandomServer
	Audit   *AuditServer
}

// NewServices builds every service over one registry and audit log.
func NewServices(keys *Registry, a *audit.Logger) *Services {
	return &Services{
		Keys:    NewKeyServer(keys, a),
		Signing: NewSigningServer(keys, a),
		Random:  NewRandomServer(keys, a),
		Audit:   NewAuditServer(a),
	}
}

// Register adds all services to s.
func (svc *Services) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&KeyServiceDesc, svc.Keys)
	s.RegisterService(&SigningServiceDesc, svc.Signing)
	s.RegisterService(&RandomServiceDesc, svc.Random)
	s.RegisterService(&AuditServiceDesc, svc.Audit)
}

// Client stream descriptors.
var (
	WatchKeyEventsStream = grpc.StreamDesc{StreamName: "WatchKeyEvents", ServerStreams: true}
	StreamSignStream     = grpc.StreamDesc{StreamName: "StreamSign", ServerStreams: true, ClientStreams: true}
	StreamAuditStream    = grpc.StreamDesc{StreamName: "StreamAudit", ServerStreams: true}
)
