// Package app assembles the device client: local storage, preferences, the server
// connection, one sync per record type, the scheduler and the session.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/and161185/clinic-sync/internal/api"
	"github.com/and161185/clinic-sync/internal/config"
	"github.com/and161185/clinic-sync/internal/crypto"
	"github.com/and161185/clinic-sync/internal/limiter"
	"github.com/and161185/clinic-sync/internal/localdb"
	"github.com/and161185/clinic-sync/internal/model"
	"github.com/and161185/clinic-sync/internal/prefs"
	"github.com/and161185/clinic-sync/internal/session"
	syncer "github.com/and161185/clinic-sync/internal/sync"
	"github.com/and161185/clinic-sync/internal/sync/scheduler"
)

// PrefsFile is the preference file inside the data directory.
const PrefsFile = "prefs.json"

// Stores are the typed local record stores.
type Stores struct {
	Patients         *localdb.RecordStore[model.Patient]
	BloodPressures   *localdb.RecordStore[model.BloodPressureMeasurement]
	Prescriptions    *localdb.RecordStore[model.PrescribedDrug]
	Appointments     *localdb.RecordStore[model.Appointment]
	Communications   *localdb.RecordStore[model.Communication]
	MedicalHistories *localdb.RecordStore[model.MedicalHistory]
	Facilities       *localdb.RecordStore[model.Facility]
}

// App is a fully wired client.
type App struct {
	Config    config.Config
	Log       *zap.Logger
	DB        *localdb.DB
	Prefs     *prefs.Store
	Users     *localdb.UserStore
	Stores    Stores
	Conn      *grpc.ClientConn
	Client    *api.Client
	Models    []syncer.ModelSync
	Scheduler *scheduler.Scheduler
	Session   *session.Session
	PinGuard  *limiter.Device
}

// Option adjusts wiring, mostly for tests.
type Option func(*options)

type options struct {
	dial     []grpc.DialOption
	session  []session.Option
	schedule []scheduler.Option
}

// WithDialOptions appends gRPC dial options (e.g. a bufconn dialer).
func WithDialOptions(o ...grpc.DialOption) Option {
	return func(op *options) { op.dial = append(op.dial, o...) }
}

func WithSessionOptions(o ...session.Option) Option {
	return func(op *options) { op.session = append(op.session, o...) }
}

func WithSchedulerOptions(o ...scheduler.Option) Option {
	return func(op *options) { op.schedule = append(op.schedule, o...) }
}

// New opens local storage under cfg.DataDir and wires every component.
func New(ctx context.Context, cfg config.Config, log *zap.Logger, opts ...Option) (_ *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	var op options
	for _, o := range opts {
		o(&op)
	}

	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.DB, err = localdb.Open(ctx, cfg.DataDir); err != nil {
		return nil, err
	}
	if a.Prefs, err = prefs.Open(filepath.Join(cfg.DataDir, PrefsFile)); err != nil {
		return nil, err
	}
	a.Users = localdb.NewUserStore(a.DB)

	token := func(ctx context.Context) (string, error) {
		tok, _, err := a.Prefs.Get(ctx, session.KeyAccessToken)
		return tok, err
	}
	a.Conn, err = api.Dial(cfg.Addr, api.DialOptions{
		CACert:             cfg.CACert,
		InsecureSkipVerify: cfg.Insecure,
		Plaintext:          cfg.Plaintext,
		Token:              token,
	}, op.dial...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	a.Client = api.NewClient(a.Conn)

	if a.Stores.Patients, err = register[model.Patient](a, model.ResourcePatients); err != nil {
		return nil, err
	}
	if a.Stores.BloodPressures, err = register[model.BloodPressureMeasurement](a, model.ResourceBloodPressures); err != nil {
		return nil, err
	}
	if a.Stores.Prescriptions, err = register[model.PrescribedDrug](a, model.ResourcePrescriptions); err != nil {
		return nil, err
	}
	if a.Stores.Appointments, err = register[model.Appointment](a, model.ResourceAppointments); err != nil {
		return nil, err
	}
	if a.Stores.Communications, err = register[model.Communication](a, model.ResourceCommunications); err != nil {
		return nil, err
	}
	if a.Stores.MedicalHistories, err = register[model.MedicalHistory](a, model.ResourceMedicalHistories); err != nil {
		return nil, err
	}
	if a.Stores.Facilities, err = register[model.Facility](a, model.ResourceFacilities); err != nil {
		return nil, err
	}

	a.PinGuard = limiter.NewDevice(a.Prefs, cfg.Pin.MaxAttempts, cfg.Pin.BlockFor)

	a.Session, err = session.New(session.Deps{
		API:        a.Client,
		Users:      a.Users,
		Data:       a.DB,
		Prefs:      a.Prefs,
		Facilities: a.Model(model.ResourceFacilities),
		Hasher:     crypto.NewBcryptHasher(0),
		PinGuard:   a.PinGuard,
		Sync:       lazySync{a},
	}, append([]session.Option{
		session.WithLogger(log.Named("session")),
		session.WithConfig(session.Config{
			LoginSyncTimeout: cfg.Sync.LoginTimeout,
			ClearRetries:     cfg.Sync.ClearRetries,
			ClearTimeout:     cfg.Sync.ClearTimeout,
		}),
	}, op.session...)...)
	if err != nil {
		return nil, err
	}

	a.Scheduler = scheduler.New(a.Models, log.Named("sync"), append([]scheduler.Option{
		scheduler.WithConcurrency(cfg.Sync.Concurrency),
		scheduler.WithInterval(cfg.Sync.Interval),
		scheduler.WithGate(a.Session.CanSyncData),
		scheduler.WithProbe(a.Client.Healthy),
	}, op.schedule...)...)
	return a, nil
}

// register creates the local store and the server sync for resource r.
func register[T model.Record](a *App, r model.Resource) (*localdb.RecordStore[T], error) {
	store, err := localdb.NewRecordStore[T](a.DB, r)
	if err != nil {
		return nil, err
	}
	ms := syncer.NewAPIRecordSync[T](r, store, a.Prefs, a.Client, a.Config.Sync.PageSize, a.Log.Named("sync"))
	a.Models = append(a.Models, ms)
	return store, nil
}

// Model returns the sync of resource r.
func (a *App) Model(r model.Resource) syncer.ModelSync {
	for _, m := range a.Models {
		if m.Resource() == r {
			return m
		}
	}
	return nil
}

// lazySync lets the session use the scheduler, which is built after the session.
type lazySync struct{ a *App }

func (l lazySync) SyncImmediately(ctx context.Context, retries int, timeout time.Duration) error {
	return l.a.Scheduler.SyncImmediately(ctx, retries, timeout)
}

// Close stops the scheduler and releases the connection and database.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errsOut []error
	if a.Conn != nil {
		errsOut = append(errsOut, a.Conn.Close())
	}
	if a.DB != nil {
		errsOut = append(errsOut, a.DB.Close())
	}
	return errors.Join(errsOut...)
}
