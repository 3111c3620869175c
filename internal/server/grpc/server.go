// Package grpcserver exposes the ClinicSync gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"

	"github.com/and161185/clinic-sync/internal/api"
	"github.com/and161185/clinic-sync/internal/convert"
	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/service"
)

// Error bodies the client shows to the user.
const (
	msgIncorrectOTP = "Incorrect OTP"
	msgIncorrectPIN = "Incorrect PIN"
	msgRateLimited  = "Too many attempts, try again later"
	msgNoAuth       = "Authentication required"
)

// Server wires services into gRPC handlers.
type Server struct {
	auth    service.AuthService
	records service.RecordService
	log     *zap.Logger
}

var _ api.ClinicSyncServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, records service.RecordService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, records: records, log: log}
}

// --- Auth ---

// RequestLoginOtp sends a login code to the user's phone.
func (s *Server) RequestLoginOtp(ctx context.Context, req *api.RequestOtpRequest) (*api.Empty, error) {
	if req.UserID == uuid.Nil {
		return nil, api.ErrorStatus(codes.InvalidArgument, "user_id is required")
	}
	if err := s.auth.RequestOtp(ctx, req.UserID); err != nil {
		return nil, s.toStatus(err, "request otp")
	}
	return &api.Empty{}, nil
}

func remoteIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// Login authenticates a user by phone, PIN and OTP.
func (s *Server) Login(ctx context.Context, req *api.LoginRequest) (*api.LoginResponse, error) {
	u := req.User
	if u.PhoneNumber == "" || u.Pin == "" || u.Otp == "" {
		return nil, api.ErrorStatus(codes.InvalidArgument, "phone_number, password and otp are required")
	}
	tok, acc, err := s.auth.Login(ctx, u.PhoneNumber, u.Pin, u.Otp, remoteIP(ctx))
	if err != nil {
		return nil, s.toStatus(err, "login")
	}
	return &api.LoginResponse{AccessToken: tok.AccessToken, User: convert.PayloadFromAccount(acc)}, nil
}

// FindUser looks an account up by phone number.
func (s *Server) FindUser(ctx context.Context, req *api.FindUserRequest) (*api.LoggedInUserPayload, error) {
	acc, err := s.auth.FindUser(ctx, req.PhoneNumber)
	if err != nil {
		return nil, s.toStatus(err, "find user")
	}
	p := convert.PayloadFromAccount(acc)
	return &p, nil
}

// Register creates a new account.
func (s *Server) Register(ctx context.Context, req *api.RegistrationRequest) (*api.RegistrationResponse, error) {
	tok, acc, err := s.auth.Register(ctx, convert.AccountFromPayload(req.User))
	if err != nil {
		return nil, s.toStatus(err, "register")
	}
	return &api.RegistrationResponse{AccessToken: tok.AccessToken, User: convert.PayloadFromAccount(acc)}, nil
}

// ResetPin replaces the caller's PIN digest.
func (s *Server) ResetPin(ctx context.Context, req *api.ResetPinRequest) (*api.ForgotPinResponse, error) {
	userID, ok := UserIDFromCtx(ctx)
	if !ok {
		return nil, api.ErrorStatus(codes.Unauthenticated, msgNoAuth)
	}
	tok, acc, err := s.auth.ResetPin(ctx, userID, req.PasswordDigest)
	if errors.Is(err, errs.ErrNotFound) {
		// the token outlived its account
		return nil, api.ErrorStatus(codes.Unauthenticated, "User not found")
	}
	if err != nil {
		return nil, s.toStatus(err, "reset pin")
	}
	return &api.ForgotPinResponse{AccessToken: tok.AccessToken, User: convert.PayloadFromAccount(acc)}, nil
}

// --- Records ---

// Push stores a batch of records of one type.
func (s *Server) Push(ctx context.Context, req *api.PushRequest) (*api.Empty, error) {
	if _, ok := UserIDFromCtx(ctx); !ok {
		return nil, api.ErrorStatus(codes.Unauthenticated, msgNoAuth)
	}
	changes, err := convert.ChangesFromPush(req.Resource, req.Records)
	if err != nil {
		return nil, api.ErrorStatus(codes.InvalidArgument, err.Error())
	}
	if err := s.records.Push(ctx, req.Resource, changes); err != nil {
		return nil, s.toStatus(err, "push")
	}
	return &api.Empty{}, nil
}

// Pull returns one page of records changed after the process token.
// Pull-only reference data is readable before login.
func (s *Server) Pull(ctx context.Context, req *api.PullRequest) (*api.PullResponse, error) {
	if _, ok := UserIDFromCtx(ctx); !ok && !req.Resource.PullOnly() {
		return nil, api.ErrorStatus(codes.Unauthenticated, msgNoAuth)
	}
	page, err := s.records.Pull(ctx, req.Resource, req.ProcessToken, req.Limit)
	if err != nil {
		return nil, s.toStatus(err, "pull")
	}
	return &api.PullResponse{
		Records:      convert.RecordsJSON(page.Changes),
		ProcessToken: page.Token,
		HasMore:      page.HasMore,
	}, nil
}

// toStatus maps service errors onto status codes with a JSON error body.
func (s *Server) toStatus(err error, op string) error {
	switch {
	case errors.Is(err, errs.ErrIncorrectOTP):
		return api.ErrorStatus(codes.Unauthenticated, msgIncorrectOTP)
	case errors.Is(err, errs.ErrIncorrectPIN):
		return api.ErrorStatus(codes.Unauthenticated, msgIncorrectPIN)
	case errors.Is(err, errs.ErrUnauthorized):
		return api.ErrorStatus(codes.Unauthenticated, msgNoAuth)
	case errors.Is(err, errs.ErrRateLimited):
		return api.ErrorStatus(codes.ResourceExhausted, msgRateLimited)
	case errors.Is(err, errs.ErrNotFound):
		return api.ErrorStatus(codes.NotFound, "Not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		return api.ErrorStatus(codes.AlreadyExists, "Phone number is already registered")
	case errors.Is(err, errs.ErrPullOnly):
		return api.ErrorStatus(codes.InvalidArgument, "Resource is read-only")
	case errors.Is(err, errs.ErrInvalidInput):
		return api.ErrorStatus(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return api.ErrorStatus(codes.Canceled, op+": canceled")
	default:
		s.log.Error(op, zap.Error(err))
		return api.ErrorStatus(codes.Internal, op+" failed")
	}
}
