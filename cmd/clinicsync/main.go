// Command clinicsync is the device client: it logs a health worker in and keeps the local
// clinical records in sync with the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/and161185/clinic-sync/internal/app"
	"github.com/and161185/clinic-sync/internal/config"
	"github.com/and161185/clinic-sync/internal/logging"
	"github.com/and161185/clinic-sync/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// cli carries what every subcommand needs. The app is built lazily so that version and
// help work without a data directory.
type cli struct {
	v       *viper.Viper
	cfgFile string
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
	appOpts []app.Option

	cfg config.Config
	log *zap.Logger
	app *app.App
}

func newCLI(in io.Reader, out, errOut io.Writer, opts ...app.Option) *cli {
	return &cli{v: viper.New(), in: in, out: out, errOut: errOut, appOpts: opts}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clinicsync",
		Short:         "Clinic records sync client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (YAML)")
	pf.String("addr", "", "server address host:port")
	pf.String("cacert", "", "CA certificate (PEM)")
	pf.Bool("insecure", false, "skip certificate verification (dev)")
	pf.Bool("plaintext", false, "connect without TLS (dev)")
	pf.String("data-dir", "", "directory for the local database and preferences")
	pf.String("log-level", "", "debug|info|warn|error")
	for key, flag := range map[string]string{
		"addr":      "addr",
		"cacert":    "cacert",
		"insecure":  "insecure",
		"plaintext": "plaintext",
		"data_dir":  "data-dir",
		"log_level": "log-level",
	} {
		_ = c.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		c.versionCmd(),
		c.loginCmd(),
		c.registerCmd(),
		c.syncCmd(),
		c.refreshCmd(),
		c.verifyPinCmd(),
		c.resetPinCmd(),
		c.logoutCmd(),
		c.statusCmd(),
		c.facilityCmd(),
		c.daemonCmd(),
	)
	return root
}

// open loads configuration and builds the client.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	if c.log, err = logging.New(cfg.LogLevel); err != nil {
		return nil, err
	}

	opts := append([]app.Option{
		app.WithSessionOptions(session.WithOtpListener(promptListener{out: c.errOut})),
	}, c.appOpts...)
	c.app, err = app.New(ctx, cfg, c.log, opts...)
	if err != nil {
		return nil, err
	}
	return c.app, nil
}

func (c *cli) close() error {
	var err error
	if c.app != nil {
		err = c.app.Close()
		c.app = nil
	}
	if c.log != nil {
		_ = c.log.Sync()
	}
	return err
}

func (c *cli) printJSON(v any) {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(c.out, "clinicsync %s (%s)\n", version, buildDate)
		},
	}
}

// main wires the command tree to the process and exits non-zero on failure.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := newCLI(os.Stdin, os.Stdout, os.Stderr)
	root := c.rootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		_ = c.close()
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		stop()
		os.Exit(1)
	}
}
