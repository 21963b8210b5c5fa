package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/lu-zhengda/aeromail/internal/app"
	"github.com/lu-zhengda/aeromail/internal/config"
	"github.com/lu-zhengda/aeromail/internal/domain"
	"github.com/lu-zhengda/aeromail/internal/logging"
	"github.com/lu-zhengda/aeromail/internal/store"
	"github.com/lu-zhengda/aeromail/internal/store/boltstore"
	"github.com/lu-zhengda/aeromail/internal/store/sqlite"
)

var (
	// version is set via ldflags at build time.
	version = "dev"
	cfgFile string

	// jsonFlag enables JSON output for all commands.
	jsonFlag bool
)

// Exit codes returned by Execute.
const (
	exitFailure  = 1
	exitInvalid  = 2
	exitNotFound = 3
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aeromail",
		Short:         "Mailbox store and synchronizer",
		Long:          "Command-line access to the aeromail mailbox: list folders, read threads, and send or simulate mail.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Run cobra's own flag checks early so their errors count as misuse.
		if err := cmd.ValidateRequiredFlags(); err != nil {
			return &usageError{err}
		}
		if err := cmd.ValidateFlagGroups(); err != nil {
			return &usageError{err}
		}
		return nil
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err}
	})
	root.SetVersionTemplate(fmt.Sprintf("aeromail %s\n", version))
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	root.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	root.AddCommand(newInitCmd())
	root.AddCommand(newResetCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newThreadCmd())
	root.AddCommand(newPatchCmd())
	root.AddCommand(newMarkReadCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newSimulateCmd())
	root.AddCommand(newMeCmd())
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// usageError is command-line misuse: bad flags, missing flags or a wrong
// argument count.
type usageError struct {
	err error
}

func (e *usageError) Error() string   { return e.err.Error() }
func (e *usageError) Unwrap() []error { return []error{e.err, domain.ErrInvalid} }

// usageArgs marks argument validation failures as misuse.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return &usageError{err}
		}
		return nil
	}
}

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return exitNotFound
	case errors.Is(err, domain.ErrInvalid):
		return exitInvalid
	default:
		return exitFailure
	}
}

// session bundles what a command needs to talk to the mailbox.
type session struct {
	cfg       *config.Config
	backend   store.Backend
	mailbox   *app.Mailbox
	bootstrap *app.Bootstrap
	tracer    *sdktrace.TracerProvider
}

func (s *session) Close() error {
	var errs []error
	if s.tracer != nil {
		errs = append(errs, s.tracer.Shutdown(context.Background()))
	}
	errs = append(errs, s.backend.Close())
	return errors.Join(errs...)
}

// openSession loads config, builds the logger and tracer and opens the
// configured store.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	opts := app.OptionsFromConfig(cfg)
	var tp *sdktrace.TracerProvider
	if cfg.Trace.Enabled {
		if tp, err = newTracerProvider(cmd.ErrOrStderr()); err != nil {
			return nil, err
		}
		opts.TracerProvider = tp
	}
	backend, err := openStore(cfg)
	if err != nil {
		if tp != nil {
			tp.Shutdown(cmd.Context())
		}
		return nil, err
	}
	mb := app.NewMailbox(backend, opts, log)
	return &session{
		cfg:       cfg,
		backend:   backend,
		mailbox:   mb,
		bootstrap: app.NewBootstrap(mb, app.DefaultSeed(), log),
		tracer:    tp,
	}, nil
}

// openStore creates the data directory and opens the configured backend.
func openStore(cfg *config.Config) (store.Backend, error) {
	path := cfg.StorePath()
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	var (
		b   store.Backend
		err error
	)
	switch cfg.Store.Driver {
	case config.DriverBolt:
		b, err = boltstore.Open(path)
	default:
		b, err = sqlite.New(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	return b, nil
}

// loadConfig loads the application configuration from the config file.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = filepath.Join(config.ConfigDir(), "config.toml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
