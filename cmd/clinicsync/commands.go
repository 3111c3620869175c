package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/clinic-sync/internal/api"
	"github.com/and161185/clinic-sync/internal/app"
	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

// describe turns a classified error into a line for the user.
func describe(err error) string {
	msg := errs.MessageOf(err)
	switch errs.KindOf(err) {
	case errs.KindNetwork:
		return "cannot reach the server, check the connection and try again"
	case errs.KindNotFound:
		return "not found on the server"
	case errs.KindServer, errs.KindAuth:
		if msg != "" {
			return msg
		}
	}
	if errors.Is(err, errs.ErrNotLoggedIn) {
		return "no user on this device, run `clinicsync login` first"
	}
	return err.Error()
}

func (c *cli) loginCmd() *cobra.Command {
	var phone, pin, otp string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log an existing user in with PIN and SMS code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			s := a.Session

			found, err := s.FindExistingUser(ctx, phone)
			if err != nil {
				return err
			}
			if err := s.SyncFacilityAndSaveUser(ctx, found); err != nil {
				return err
			}
			s.SaveOngoingLoginEntry(model.OngoingLoginEntry{UserID: found.ID, PhoneNumber: phone, Pin: pin})
			if err := s.RequestLoginOtp(ctx); err != nil {
				return err
			}
			if otp == "" {
				if otp, err = readLine(ctx, c.in, c.errOut, "Code: "); err != nil {
					return err
				}
			}
			if err := s.LoginWithOtp(ctx, otp); err != nil {
				return err
			}
			u, err := s.RequireLoggedInUser(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "logged in as %s (%s)\n", u.FullName, u.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "registered phone number")
	cmd.Flags().StringVar(&pin, "pin", "", "4 digit PIN")
	cmd.Flags().StringVar(&otp, "otp", "", "SMS code; prompted for when empty")
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var (
		phone, name, pin string
		facilities       []string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new user at one or more facilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			if err := a.Model(model.ResourceFacilities).Pull(ctx); err != nil {
				return err
			}
			ids, err := facilityIDs(ctx, a, facilities)
			if err != nil {
				return err
			}
			id, err := uuid.NewV4()
			if err != nil {
				return err
			}

			s := a.Session
			s.SaveOngoingRegistrationEntry(model.OngoingRegistrationEntry{
				UserID:      id,
				FullName:    name,
				PhoneNumber: phone,
				Pin:         pin,
				FacilityIDs: ids,
				CreatedAt:   time.Now().UTC(),
			})
			if err := s.LoginFromOngoingRegistrationEntry(ctx); err != nil {
				return err
			}
			if err := s.Register(ctx); err != nil {
				return err
			}
			u, err := s.RequireLoggedInUser(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "registered %s (%s)\n", u.ID, u.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&pin, "pin", "", "4 digit PIN")
	cmd.Flags().StringSliceVar(&facilities, "facility", nil, "facility id; the first is the registration facility (default: first known facility)")
	for _, f := range []string{"phone", "name", "pin"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// facilityIDs parses the requested facilities, defaulting to the first known one.
func facilityIDs(ctx context.Context, a *app.App, raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		known, err := a.Stores.Facilities.List(ctx)
		if err != nil {
			return nil, err
		}
		if len(known) == 0 {
			return nil, errors.New("the server has no facilities")
		}
		return []uuid.UUID{known[0].ID}, nil
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.FromString(r)
		if err != nil {
			return nil, fmt.Errorf("facility %q: %w", r, err)
		}
		if _, err := a.Stores.Facilities.Get(ctx, id); err != nil {
			return nil, fmt.Errorf("facility %s: %w", id, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push local changes and pull server changes now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			if _, err := a.Session.RequireLoggedInUser(ctx); err != nil {
				return err
			}
			if err := a.Scheduler.SyncImmediately(ctx, c.cfg.Sync.Retries, c.cfg.Sync.Timeout); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "sync complete")
			return nil
		},
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the current approval state of the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			if err := a.Session.RefreshLoggedInUser(ctx); err != nil {
				return err
			}
			u, err := a.Session.RequireLoggedInUser(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s: %s, %s\n", u.FullName, u.Status, u.LoggedInStatus)
			return nil
		},
	}
}

func (c *cli) verifyPinCmd() *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "verify-pin",
		Short: "Check the PIN of the user on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			switch err := a.Session.VerifyPin(ctx, pin); {
			case errors.Is(err, errs.ErrRateLimited):
				return errors.New("too many wrong PINs, try again later or reset the PIN")
			case errors.Is(err, errs.ErrIncorrectPIN):
				n, ferr := a.PinGuard.FailedAttempts(ctx)
				if ferr != nil {
					return err
				}
				return fmt.Errorf("incorrect PIN, %d attempts left", max(c.cfg.Pin.MaxAttempts-n, 0))
			case err != nil:
				return err
			}
			fmt.Fprintln(c.out, "PIN ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "PIN to check")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}

func (c *cli) resetPinCmd() *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "reset-pin",
		Short: "Upload pending data, wipe local records and set a new PIN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			if err := a.Session.SyncAndClearData(ctx); err != nil {
				return err
			}
			if err := a.Session.ResetPin(ctx, pin); err != nil {
				if errors.Is(err, errs.ErrUserNotFound) {
					return errors.New("the server no longer knows this user, log in again")
				}
				return err
			}
			fmt.Fprintln(c.out, "PIN reset requested, waiting for approval")
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "new PIN")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the user and all local data from this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "logged out")
			return nil
		},
	}
}

type storeCount struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
}

type statusView struct {
	User            *api.LoggedInUserPayload      `json:"user,omitempty"`
	LoggedIn        model.LoggedInStatus          `json:"logged_in_status,omitempty"`
	CurrentFacility *uuid.UUID                    `json:"current_facility,omitempty"`
	CanSync         bool                          `json:"can_sync"`
	TokenExpiresAt  *time.Time                    `json:"token_expires_at,omitempty"`
	Records         map[model.Resource]storeCount `json:"records"`
}

type counter interface {
	Count(ctx context.Context) (total, pending int, err error)
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the device user and local record counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			view := statusView{Records: map[model.Resource]storeCount{}, CanSync: a.Session.CanSyncData(ctx)}

			u, err := a.Session.LoggedInUser(ctx)
			if err != nil {
				return err
			}
			if u != nil {
				view.User = &api.LoggedInUserPayload{
					ID:          u.ID,
					FullName:    u.FullName,
					PhoneNumber: u.PhoneNumber,
					Status:      u.Status,
					CreatedAt:   u.CreatedAt,
					UpdatedAt:   u.UpdatedAt,
				}
				if view.User.FacilityIDs, err = a.Users.FacilityIDs(ctx, u.ID); err != nil {
					return err
				}
				view.LoggedIn = u.LoggedInStatus
				switch cur, err := a.Users.CurrentFacilityID(ctx, u.ID); {
				case err == nil:
					view.CurrentFacility = &cur
				case !errors.Is(err, errs.ErrNotFound):
					return err
				}
			}
			if exp, ok := a.Session.AccessTokenExpiry(ctx); ok {
				view.TokenExpiresAt = &exp
			}

			for r, s := range map[model.Resource]counter{
				model.ResourcePatients:         a.Stores.Patients,
				model.ResourceBloodPressures:   a.Stores.BloodPressures,
				model.ResourcePrescriptions:    a.Stores.Prescriptions,
				model.ResourceAppointments:     a.Stores.Appointments,
				model.ResourceCommunications:   a.Stores.Communications,
				model.ResourceMedicalHistories: a.Stores.MedicalHistories,
				model.ResourceFacilities:       a.Stores.Facilities,
			} {
				total, pending, err := s.Count(ctx)
				if err != nil {
					return fmt.Errorf("count %s: %w", r, err)
				}
				view.Records[r] = storeCount{Total: total, Pending: pending}
			}
			c.printJSON(view)
			return nil
		},
	}
}

func (c *cli) facilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch-facility <facility-id>",
		Short: "Make another of the user's facilities the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := uuid.FromString(args[0])
			if err != nil {
				return fmt.Errorf("facility %q: %w", args[0], err)
			}
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			u, err := a.Session.RequireLoggedInUser(ctx)
			if err != nil {
				return err
			}
			if err := a.Users.SetCurrentFacility(ctx, u.ID, id); err != nil {
				if errors.Is(err, errs.ErrNotFound) {
					return fmt.Errorf("facility %s is not assigned to %s", id, u.FullName)
				}
				return err
			}
			fmt.Fprintf(c.out, "current facility: %s\n", id)
			return nil
		},
	}
}

func (c *cli) daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Sync periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			if err := a.Scheduler.Start(ctx); err != nil {
				return err
			}
			c.log.Info("sync daemon started", zap.Duration("interval", c.cfg.Sync.Interval))
			<-ctx.Done()
			a.Scheduler.Stop()
			c.log.Info("sync daemon stopped")
			return nil
		},
	}
}
