package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "clinic.sync.v1.ClinicSync"

// Full method names.
const (
	MethodRequestLoginOtp = "/" + ServiceName + "/RequestLoginOtp"
	MethodLogin           = "/" + ServiceName + "/Login"
	MethodFindUser        = "/" + ServiceName + "/FindUser"
	MethodRegister        = "/" + ServiceName + "/Register"
	MethodResetPin        = "/" + ServiceName + "/ResetPin"
	MethodPush            = "/" + ServiceName + "/Push"
	MethodPull            = "/" + ServiceName + "/Pull"
)

// ClinicSyncServer is implemented by the server.
type ClinicSyncServer interface {
	RequestLoginOtp(context.Context, *RequestOtpRequest) (*Empty, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	FindUser(context.Context, *FindUserRequest) (*LoggedInUserPayload, error)
	Register(context.Context, *RegistrationRequest) (*RegistrationResponse, error)
	ResetPin(context.Context, *ResetPinRequest) (*ForgotPinResponse, error)
	Push(context.Context, *PushRequest) (*Empty, error)
	Pull(context.Context, *PullRequest) (*PullResponse, error)
}

// RegisterClinicSyncServer registers srv on s.
func RegisterClinicSyncServer(s grpc.ServiceRegistrar, srv ClinicSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the ClinicSync service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClinicSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestLoginOtp", Handler: unary(MethodRequestLoginOtp, ClinicSyncServer.RequestLoginOtp)},
		{MethodName: "Login", Handler: unary(MethodLogin, ClinicSyncServer.Login)},
		{MethodName: "FindUser", Handler: unary(MethodFindUser, ClinicSyncServer.FindUser)},
		{MethodName: "Register", Handler: unary(MethodRegister, ClinicSyncServer.Register)},
		{MethodName: "ResetPin", Handler: unary(MethodResetPin, ClinicSyncServer.ResetPin)},
		{MethodName: "Push", Handler: unary(MethodPush, ClinicSyncServer.Push)},
		{MethodName: "Pull", Handler: unary(MethodPull, ClinicSyncServer.Pull)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "clinic/sync/v1/sync.json",
}

// unary adapts a typed server method to grpc.MethodHandler.
func unary[Req, Resp any](
	fullMethod string,
	call func(ClinicSyncServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ClinicSyncServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ClinicSyncServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
