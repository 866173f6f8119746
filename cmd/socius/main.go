package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Joseda-hg/socius/internal/backend"
	"github.com/Joseda-hg/socius/internal/cache"
	"github.com/Joseda-hg/socius/internal/config"
	"github.com/Joseda-hg/socius/internal/db"
	"github.com/Joseda-hg/socius/internal/logging"
	"github.com/Joseda-hg/socius/internal/model"
	"github.com/Joseda-hg/socius/internal/notify"
	"github.com/Joseda-hg/socius/internal/watch"
)

type app struct {
	configPath string
	backendURL string
	userID     string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
	client *backend.Client
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{}
	err := a.rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, Red("error:"), err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "socius",
		Short:         "Team task board with deadline tracking",
		Long:          `socius shows the tasks assigned to you and your team, marks tasks failed once their deadline passes, and lets assignees and leaders move tasks through review.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runTUI(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file path (.json or .yaml)")
	flags.StringVar(&a.backendURL, "backend", "", "backend base URL")
	flags.StringVar(&a.userID, "user", "", "user id to act as")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.tuiCmd(),
		a.serveCmd(),
		a.tasksCmd(),
		a.reconcileCmd(),
		a.transitionCmd(),
		a.dashboardCmd(),
		a.calendarCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfgPath, err := resolveConfigPath(a.configPath)
	if err != nil {
		return err
	}
	a.configPath = cfgPath

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if a.backendURL != "" {
		cfg.BackendURL = a.backendURL
	}
	if a.userID != "" {
		cfg.UserID = a.userID
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(cfgPath), "socius.db")
	}
	// the terminal UI owns stderr
	if isTUI(cmd) && cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(filepath.Dir(cfgPath), "socius.log")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", cfgPath, err)
	}
	a.cfg = cfg

	logger, err := logging.New(logging.FromConfig(cfg, a.verbose))
	if err != nil {
		return err
	}
	a.logger = logger

	timeout, _ := cfg.Timeout()
	opts := []backend.Option{backend.WithTimeout(timeout)}
	if cfg.APIToken != "" {
		opts = append(opts, backend.WithToken(cfg.APIToken))
	}
	a.client = backend.New(cfg.BackendURL, opts...)
	return nil
}

func isTUI(cmd *cobra.Command) bool {
	return !cmd.HasParent() || cmd.Name() == "tui"
}

func (a *app) actor() model.Actor {
	return model.Actor{UserID: a.cfg.UserID, TeamID: a.cfg.TeamID, TeamLeader: a.cfg.TeamLeader}
}

func (a *app) requireUser() error {
	if a.cfg.UserID == "" {
		return fmt.Errorf("no user configured: pass --user or set user_id in %s", a.configPath)
	}
	return nil
}

// newWatcher wires a watcher that loads every task the configured user can
// see: their own and, when a team is set, the team's.
func (a *app) newWatcher(c *cache.Cache, notifier notify.Notifier) *watch.Watcher {
	interval, _ := a.cfg.PollEvery()
	load := func(ctx context.Context) ([]model.Task, error) {
		return a.loadVisibleTasks(ctx)
	}
	return watch.New(load, a.client, c, watch.Options{
		Interval:      interval,
		RefreshEvery:  a.cfg.RefreshEvery,
		MaxConcurrent: a.cfg.MaxConcurrentUpdates,
		Notifier:      notifier,
		Logger:        a.logger.Named("watch"),
	})
}

func (a *app) loadVisibleTasks(ctx context.Context) ([]model.Task, error) {
	if a.cfg.TeamID == "" && a.cfg.UserID == "" {
		return a.client.ListTasks(ctx, model.Filter{})
	}
	var tasks []model.Task
	seen := make(map[string]bool)
	add := func(list []model.Task) {
		for _, task := range list {
			if !seen[task.ID] {
				seen[task.ID] = true
				tasks = append(tasks, task)
			}
		}
	}
	if a.cfg.UserID != "" {
		mine, err := a.client.ListTasks(ctx, model.Filter{AssigneeID: a.cfg.UserID})
		if err != nil {
			return nil, err
		}
		add(mine)
	}
	if a.cfg.TeamID != "" {
		team, err := a.client.ListTasks(ctx, model.Filter{TeamID: a.cfg.TeamID})
		if err != nil {
			return nil, err
		}
		add(team)
	}
	return tasks, nil
}

func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	return config.DefaultConfigPath()
}

func openStore(dbPath string) (*db.Store, func() error, error) {
	if err := config.EnsureDir(dbPath); err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}

	return db.NewStore(sqlDB), sqlDB.Close, nil
}
