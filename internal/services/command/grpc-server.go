package command

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	CommandServiceName = "farmsim.v1.CommandService"
	processCommandRPC  = "/" + CommandServiceName + "/ProcessCommand"
)

// CommandServiceServer takes a command as a JSON object and answers whether it was applied.
type CommandServiceServer interface {
	ProcessCommand(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
}

// CommandServiceDesc is written by hand: the messages are well-known types.
var CommandServiceDesc = grpc.ServiceDesc{
	ServiceName: CommandServiceName,
	HandlerType: (*CommandServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProcessCommand", Handler: processCommandHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "farmsim/v1/command.proto",
}

func RegisterCommandService(s grpc.ServiceRegistrar, srv CommandServiceServer) {
	s.RegisterService(&CommandServiceDesc, srv)
}

func processCommandHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommandServiceServer).ProcessCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: processCommandRPC}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommandServiceServer).ProcessCommand(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GrpcHandler implementa CommandService sopra il CommandProcessor.
type GrpcHandler struct {
	proc CommandProcessor
	log  zerolog.Logger
}

var _ CommandServiceServer = (*GrpcHandler)(nil)

func NewGrpcHandler(proc CommandProcessor, log zerolog.Logger) *GrpcHandler {
	return &GrpcHandler{proc: proc, log: log}
}

func (h *GrpcHandler) ProcessCommand(_ context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "empty command")
	}
	raw, err := req.MarshalJSON()
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode command: %v", err)
	}
	cmd, err := Decode(raw, "")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	applied := h.proc.ProcessCommand(cmd)
	h.log.Debug().Bool("applied", applied).Msg("grpc: command processed")
	return wrapperspb.Bool(applied), nil
}

// LoggingInterceptor logs every unary call with its duration and status code.
func LoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Info().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("took", time.Since(start)).
			Msg("grpc: call")
		return resp, err
	}
}
