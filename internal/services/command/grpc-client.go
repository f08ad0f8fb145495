package command

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
)

// CommandClient calls CommandService.ProcessCommand.
type CommandClient struct {
	cc    grpc.ClientConnInterface
	close func() error
}

// DialCommandClient connects lazily to addr without TLS.
func DialCommandClient(addr string, opts ...grpc.DialOption) (*CommandClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &CommandClient{cc: conn, close: conn.Close}, nil
}

func NewCommandClient(cc grpc.ClientConnInterface) *CommandClient {
	return &CommandClient{cc: cc, close: func() error { return nil }}
}

func (c *CommandClient) Send(ctx context.Context, cmd messages.DeviceCommand) (bool, error) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return false, err
	}
	return c.SendJSON(ctx, raw)
}

// SendJSON sends a raw JSON object as the command.
func (c *CommandClient) SendJSON(ctx context.Context, raw []byte) (bool, error) {
	in := &structpb.Struct{}
	if err := in.UnmarshalJSON(raw); err != nil {
		return false, fmt.Errorf("command must be a JSON object: %w", err)
	}
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, processCommandRPC, in, out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *CommandClient) Close() error { return c.close() }
