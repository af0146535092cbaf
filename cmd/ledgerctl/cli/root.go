// Package cli implements the ledgerctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/akaunkita/finledger/internal/app"
	"github.com/akaunkita/finledger/internal/platform/cache"
	"github.com/akaunkita/finledger/internal/platform/db"
	"github.com/akaunkita/finledger/internal/shared"
)

// operatorID identifies CLI-initiated changes in the audit log when --user is not given.
var operatorID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("finledger/ledgerctl"))

// Env holds lazily opened dependencies shared by subcommands.
type Env struct {
	// OpenServices connects to PostgreSQL and Redis and wires the domain layer.
	OpenServices func(ctx context.Context) (*app.Services, error)
	// OpenJobs connects to the job queue.
	OpenJobs func() (JobsAPI, error)
	Logger   *slog.Logger

	closers []func() error
	jobs    JobsAPI
}

// NewEnv builds the production environment from process configuration.
func NewEnv() *Env {
	env := &Env{}
	var cfg *app.Config
	loadConfig := func() (*app.Config, error) {
		if cfg != nil {
			return cfg, nil
		}
		loaded, err := app.LoadConfig()
		if err != nil {
			return nil, err
		}
		cfg = loaded
		env.Logger = app.NewLogger(cfg)
		return cfg, nil
	}
	env.OpenServices = func(ctx context.Context) (*app.Services, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, func() error { pool.Close(); return nil })
		redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, redisClient.Close)
		return app.BuildServices(cfg, app.Infra{Pool: pool, Redis: redisClient, Logger: env.logger()})
	}
	env.OpenJobs = func() (JobsAPI, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		return NewJobsCLI(cfg.AsynqRedis()), nil
	}
	return env
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Env) services(ctx context.Context) (*app.Services, error) {
	if e.OpenServices == nil {
		return nil, errors.New("ledgerctl: database access not configured")
	}
	return e.OpenServices(ctx)
}

func (e *Env) queue() (JobsAPI, error) {
	if e.jobs != nil {
		return e.jobs, nil
	}
	if e.OpenJobs == nil {
		return nil, errors.New("ledgerctl: job queue not configured")
	}
	jobs, err := e.OpenJobs()
	if err != nil {
		return nil, err
	}
	e.jobs = jobs
	e.closers = append(e.closers, jobs.Close)
	return jobs, nil
}

// Close releases everything opened by subcommands.
func (e *Env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	e.jobs = nil
	return errors.Join(errs...)
}

type globalFlags struct {
	company string
	user    string
	output  string
	timeout time.Duration
}

func (g *globalFlags) actor() (shared.Actor, error) {
	companyID, err := uuid.Parse(g.company)
	if err != nil {
		return shared.Actor{}, fmt.Errorf("--company: %w", err)
	}
	userID := operatorID
	if g.user != "" {
		if userID, err = uuid.Parse(g.user); err != nil {
			return shared.Actor{}, fmt.Errorf("--user: %w", err)
		}
	}
	return shared.Actor{CompanyID: companyID, UserID: userID}, nil
}

func (g *globalFlags) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), g.timeout)
}

func (g *globalFlags) print(w io.Writer, v any) error {
	switch strings.ToLower(g.output) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Going through JSON keeps the json field names and key order.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		blockStyle(&doc)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output %q (json or yaml)", g.output)
	}
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// NewRootCommand assembles the ledgerctl command tree.
func NewRootCommand(env *Env) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operate the finledger ledger, POS pipeline and reconciliation",
		Long: `ledgerctl runs operator tasks against finledger.

Example:
  ledgerctl chart validate chart.yaml
  ledgerctl reconcile match --statement bank.csv --ledger book.csv -o yaml
  ledgerctl pos post-daily --company <uuid> --date 2025-03-10
  ledgerctl jobs inspect`,
		SilenceUsage: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return env.Close()
		},
	}
	root.PersistentFlags().StringVar(&flags.company, "company", "", "company id")
	root.PersistentFlags().StringVar(&flags.user, "user", "", "acting user id (defaults to the ledgerctl operator)")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "json", "output format: json or yaml")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 2*time.Minute, "overall command timeout")

	root.AddCommand(
		newChartCommand(flags),
		newReconcileCommand(env, flags),
		newPOSCommand(env, flags),
		newJobsCommand(env, flags),
	)
	return root
}
