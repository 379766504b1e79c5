package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/officeflow/officeflow/internal/auth"
	"github.com/officeflow/officeflow/internal/config"
	"github.com/officeflow/officeflow/internal/database"
	"github.com/officeflow/officeflow/internal/locking"
	"github.com/officeflow/officeflow/internal/logging"
	"github.com/officeflow/officeflow/internal/metrics"
	"github.com/officeflow/officeflow/internal/models"
	"github.com/officeflow/officeflow/internal/notifications"
	"github.com/officeflow/officeflow/internal/repository"
	"github.com/officeflow/officeflow/internal/service"
	"github.com/officeflow/officeflow/internal/workflow"
)

// app holds everything a command needs, wired from config.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *sqlx.DB
	redis     *redis.Client
	templates repository.TemplateRepository
	tickets   repository.TicketRepository
	roles     repository.RoleRepository
	ticketSvc *service.TicketService
	tmplSvc   *service.TemplateService
	roleSvc   *service.RoleService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db}

	qb := database.NewQueryBuilder(db)
	a.tickets = repository.NewSQLTicketRepository(qb)
	a.templates = repository.NewSQLTemplateRepository(qb)
	a.roles = repository.NewSQLRoleRepository(qb)
	resolver := auth.NewResolver(a.roles)

	assigner, err := workflow.NewAssigner(cfg.Workflow.AssignmentPolicy, resolver)
	if err != nil {
		a.close()
		return nil, err
	}
	engine := workflow.NewEngine(assigner, workflow.Options{StrictClock: cfg.Workflow.StrictClock})

	var locker locking.Locker = locking.NewLocalLocker()
	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		locker = locking.NewRedisLocker(a.redis, cfg.Redis.KeyPrefix, cfg.Redis.LockTTL, cfg.Redis.LockRetry, logger)
	}

	rec := metrics.NewNop()
	if cfg.Metrics.Enabled {
		if rec, err = metrics.New(prometheus.DefaultRegisterer, cfg.Metrics.Namespace); err != nil {
			a.close()
			return nil, err
		}
	}

	// No channel has a transport yet; every notification is logged.
	dispatcher := notifications.NewDispatcher(resolver, notifications.LogNotifier{Logger: logger.Named("notify")}, logger)
	dispatcher.Register(models.ChannelEmail, notifications.LogNotifier{Logger: logger.Named("email")})
	dispatcher.Register(models.ChannelSlack, notifications.LogNotifier{Logger: logger.Named("slack")})

	a.ticketSvc = service.NewTicketService(service.TicketServiceConfig{
		Tickets:    a.tickets,
		Templates:  a.templates,
		Resolver:   resolver,
		Engine:     engine,
		Locker:     locker,
		Dispatcher: dispatcher,
		Metrics:    rec,
		Logger:     logger,
		SyncStatus: cfg.Workflow.SyncTicketStatus,
	})
	a.tmplSvc = service.NewTemplateService(a.templates, a.tickets, resolver, logger)
	a.roleSvc = service.NewRoleService(a.roles, resolver, logger)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Sync()
}

// withApp adapts a command body that needs a wired app to cobra's RunE.
func withApp(needsActor bool, fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if needsActor {
			if err := requireActor(); err != nil {
				return err
			}
		}
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a, cmd, args)
	}
}
