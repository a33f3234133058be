package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sandeepkv93/tasksched/internal/api"
	"github.com/sandeepkv93/tasksched/internal/delivery"
	"github.com/sandeepkv93/tasksched/internal/materialize"
	"github.com/sandeepkv93/tasksched/internal/notify"
	"github.com/sandeepkv93/tasksched/internal/scheduler"
	"github.com/sandeepkv93/tasksched/internal/service"
	"github.com/sandeepkv93/tasksched/internal/storage"
	"github.com/sandeepkv93/tasksched/internal/views"
)

type runtime struct {
	repo    *storage.SQLiteRepository
	engine  *delivery.Engine
	durable *delivery.Durable
	svc     *service.Service
	redis   *redis.Client
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	_ = rt.repo.Close()
}

// build is the composition root shared by serve and catch-up.
func (a *app) build(ctx context.Context) (*runtime, error) {
	repo, err := a.openRepo()
	if err != nil {
		return nil, err
	}
	rt := &runtime{repo: repo}

	exact := a.cfg.ExactAlarms
	rt.engine = delivery.NewEngine(a.cfg.EngineBuffer,
		delivery.WithExactPermission(func() bool { return exact }),
		delivery.WithInexactWindow(a.cfg.InexactWindow),
	)

	var journal delivery.Journal = repo
	if a.cfg.RedisAddr != "" {
		client, err := delivery.NewRedisClient(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.redis = client
		journal = delivery.NewRedisJournal(client, "")
		a.log.Info("journaling triggers in redis", "addr", a.cfg.RedisAddr)
	}
	rt.durable = delivery.NewDurable(rt.engine, journal, a.log.WithPrefix("delivery"))

	notifiers := notify.Multi{notify.NewLogNotifier(a.log.WithPrefix("notify"))}
	if a.cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramNotifier(a.cfg.TelegramToken, a.cfg.TelegramChatID)
		if err != nil {
			rt.Close()
			return nil, err
		}
		notifiers = append(notifiers, tg)
	}

	m := materialize.New(repo,
		materialize.WithLogger(a.log.WithPrefix("materialize")),
		materialize.WithClock(a.now),
		materialize.WithMaxBackfillDays(a.cfg.MaxBackfillDays),
	)
	sched := scheduler.New(rt.durable,
		scheduler.WithLogger(a.log.WithPrefix("scheduler")),
		scheduler.WithClock(a.now),
	)
	rt.svc = service.New(repo, m, sched,
		service.WithLogger(a.log),
		service.WithClock(a.now),
		service.WithNotifier(notifiers),
		service.WithJournal(rt.durable),
	)
	return rt, nil
}

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon with its HTTP hooks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := a.build(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, err := rt.svc.Restore(ctx); err != nil {
				a.log.Warn("restoring triggers failed", "err", err)
			}
			rt.engine.Start()
			defer rt.engine.Stop()

			ticker := service.NewDailyTicker(a.loc)
			if _, err := ticker.ScheduleDaily(a.cfg.DailyRunAt, rt.svc.RequestCatchUp); err != nil {
				return err
			}
			ticker.Start()
			defer ticker.Stop()

			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(rt.svc, a.log.WithPrefix("api")),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.log.Error("http server stopped", "err", err)
					stop()
				}
			}()
			a.log.Info("serving", "addr", addr, "next_catch_up", ticker.Next().Format(time.RFC3339))

			rt.svc.RequestCatchUp()
			runErr := rt.svc.Run(ctx, rt.engine.C())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (defaults to http_addr)")
	return cmd
}

func newCatchUpCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "catch-up",
		Short: "Materialize missed instances once and journal their reminders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.build(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.svc.RunCatchUp(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), views.RenderReport(report))
			return nil
		},
	}
}
