package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const presenceServiceName = "pulsechat.PresenceService"

const (
	methodCheckUserOnline = "/" + presenceServiceName + "/CheckUserOnline"
	methodGetOnlineUsers  = "/" + presenceServiceName + "/GetOnlineUsers"
	methodGetNodeInfo     = "/" + presenceServiceName + "/GetNodeInfo"
)

// PresenceSource is the read side of the realtime hub.
type PresenceSource interface {
	IsOnline(userID string) bool
	OnlineUsers() []string
	ConnectionCount() int
	NodeID() string
	StartedAt() time.Time
}

// PresenceServer is the server API of pulsechat.PresenceService.
// Requests and responses are protobuf well-known types.
type PresenceServer interface {
	CheckUserOnline(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	GetOnlineUsers(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	GetNodeInfo(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type presenceServer struct {
	source PresenceSource
}

func NewPresenceServer(source PresenceSource) PresenceServer {
	return &presenceServer{source: source}
}

func (s *presenceServer) CheckUserOnline(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "user id is required")
	}
	return wrapperspb.Bool(s.source.IsOnline(req.GetValue())), nil
}

func (s *presenceServer) GetOnlineUsers(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	users := s.source.OnlineUsers()
	values := make([]*structpb.Value, 0, len(users))
	for _, id := range users {
		values = append(values, structpb.NewStringValue(id))
	}
	return &structpb.ListValue{Values: values}, nil
}

func (s *presenceServer) GetNodeInfo(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	info, err := structpb.NewStruct(map[string]any{
		"node_id":        s.source.NodeID(),
		"connections":    s.source.ConnectionCount(),
		"uptime_seconds": int64(time.Since(s.source.StartedAt()).Seconds()),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to build node info: %v", err)
	}
	return info, nil
}

// RegisterPresenceServer attaches srv to s under pulsechat.PresenceService.
func RegisterPresenceServer(s grpc.ServiceRegistrar, srv PresenceServer) {
	s.RegisterService(&presenceServiceDesc, srv)
}

var presenceServiceDesc = grpc.ServiceDesc{
	ServiceName: presenceServiceName,
	HandlerType: (*PresenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckUserOnline", Handler: checkUserOnlineHandler},
		{MethodName: "GetOnlineUsers", Handler: getOnlineUsersHandler},
		{MethodName: "GetNodeInfo", Handler: getNodeInfoHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pulsechat/presence.proto",
}

func checkUserOnlineHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PresenceServer).CheckUserOnline(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCheckUserOnline}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PresenceServer).CheckUserOnline(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getOnlineUsersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PresenceServer).GetOnlineUsers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetOnlineUsers}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PresenceServer).GetOnlineUsers(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getNodeInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PresenceServer).GetNodeInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetNodeInfo}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PresenceServer).GetNodeInfo(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
