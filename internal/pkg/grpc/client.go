package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// NodeInfo is the decoded GetNodeInfo response.
type NodeInfo struct {
	NodeID        string
	Connections   int
	UptimeSeconds int64
}

// PresenceClient 封装 PresenceService 客户端
type PresenceClient struct {
	conn *grpc.ClientConn
}

func NewPresenceClient(address string, opts ...grpc.DialOption) (*PresenceClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to presence service: %w", err)
	}
	return &PresenceClient{conn: conn}, nil
}

func (c *PresenceClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *PresenceClient) CheckUserOnline(ctx context.Context, userID string) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.conn.Invoke(ctx, methodCheckUserOnline, wrapperspb.String(userID), out); err != nil {
		return false, fmt.Errorf("grpc call failed: %w", err)
	}
	return out.GetValue(), nil
}

func (c *PresenceClient) GetOnlineUsers(ctx context.Context) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, methodGetOnlineUsers, &emptypb.Empty{}, out); err != nil {
		return nil, fmt.Errorf("grpc call failed: %w", err)
	}
	users := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		users = append(users, v.GetStringValue())
	}
	return users, nil
}

func (c *PresenceClient) GetNodeInfo(ctx context.Context) (*NodeInfo, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetNodeInfo, &emptypb.Empty{}, out); err != nil {
		return nil, fmt.Errorf("grpc call failed: %w", err)
	}
	fields := out.GetFields()
	return &NodeInfo{
		NodeID:        fields["node_id"].GetStringValue(),
		Connections:   int(fields["connections"].GetNumberValue()),
		UptimeSeconds: int64(fields["uptime_seconds"].GetNumberValue()),
	}, nil
}
