package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/sandeepkv93/tasksched/internal/config"
	"github.com/sandeepkv93/tasksched/internal/logger"
	"github.com/sandeepkv93/tasksched/internal/storage"
)

type app struct {
	configPath string
	debug      bool

	cfg config.Config
	loc *time.Location
	log *log.Logger
}

func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "tasksched",
		Short: "Recurring task materialization and reminder scheduling",
		Long: `tasksched turns recurring task templates into dated instances, backfills
days missed while it was not running, and schedules each instance's reminders.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging to stderr")

	root.AddCommand(newServeCommand(a))
	root.AddCommand(newCatchUpCommand(a))
	root.AddCommand(newTemplateCommand(a))
	root.AddCommand(newPreviewCommand(a))
	root.AddCommand(newPlanCommand(a))
	return root
}

// Execute runs the root command and prints any error.
func Execute() error {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func (a *app) load() error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.LoadFile(a.configPath, cfg)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg = config.FromEnv(cfg)
	if a.debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	l, err := logger.New(logger.Config{Debug: cfg.Debug, LogDir: cfg.LogDir})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.cfg, a.loc, a.log = cfg, loc, l
	return nil
}

func (a *app) openRepo() (*storage.SQLiteRepository, error) {
	return storage.OpenSQLite(a.cfg.DatabasePath, storage.WithLocation(a.loc))
}

func (a *app) now() time.Time {
	return time.Now().In(a.loc)
}
