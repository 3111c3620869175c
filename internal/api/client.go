package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

// Client calls the ClinicSync service. Every error it returns is an *errs.Error.
type Client struct {
	conn   grpc.ClientConnInterface
	health healthpb.HealthClient
}

// NewClient wraps a connection created by Dial.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return classify(c.conn.Invoke(ctx, method, in, out))
}

// RequestLoginOtp triggers an OTP SMS for the user.
func (c *Client) RequestLoginOtp(ctx context.Context, userID uuid.UUID) error {
	return c.invoke(ctx, MethodRequestLoginOtp, &RequestOtpRequest{UserID: userID}, &Empty{})
}

// Login exchanges phone, PIN and OTP for an access token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	var out LoginResponse
	err := c.invoke(ctx, MethodLogin, &req, &out)
	return out, err
}

// FindUser looks a user up by phone number.
func (c *Client) FindUser(ctx context.Context, phone string) (LoggedInUserPayload, error) {
	var out LoggedInUserPayload
	err := c.invoke(ctx, MethodFindUser, &FindUserRequest{PhoneNumber: phone}, &out)
	return out, err
}

// Register creates the user on the server.
func (c *Client) Register(ctx context.Context, req RegistrationRequest) (RegistrationResponse, error) {
	var out RegistrationResponse
	err := c.invoke(ctx, MethodRegister, &req, &out)
	return out, err
}

// ResetPin replaces the authenticated user's PIN digest.
func (c *Client) ResetPin(ctx context.Context, req ResetPinRequest) (ForgotPinResponse, error) {
	var out ForgotPinResponse
	err := c.invoke(ctx, MethodResetPin, &req, &out)
	return out, err
}

// Healthy reports whether the server answers health checks as SERVING.
func (c *Client) Healthy(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{}, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return classify(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errs.Network(fmt.Errorf("server status %s", resp.GetStatus()))
	}
	return nil
}

// PushRecords sends records of one type as a single batch.
func PushRecords[T any](ctx context.Context, c *Client, r model.Resource, records []T) error {
	b, err := json.Marshal(records)
	if err != nil {
		return errs.Unexpected(fmt.Errorf("encode %s: %w", r, err))
	}
	return c.invoke(ctx, MethodPush, &PushRequest{Resource: r, Records: b}, &Empty{})
}

// PullRecords fetches one page of records of one type changed after token.
func PullRecords[T any](ctx context.Context, c *Client, r model.Resource, token *string, limit int) ([]T, PullResponse, error) {
	var out PullResponse
	if err := c.invoke(ctx, MethodPull, &PullRequest{Resource: r, ProcessToken: token, Limit: limit}, &out); err != nil {
		return nil, out, err
	}
	var records []T
	if len(out.Records) > 0 {
		if err := json.Unmarshal(out.Records, &records); err != nil {
			return nil, out, errs.Unexpected(fmt.Errorf("decode %s page: %w", r, err))
		}
	}
	return records, out, nil
}
