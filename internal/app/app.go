// Package app wires the configured backends into a runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"

	"github.com/lupppig/notifysender/internal/awsconfig"
	"github.com/lupppig/notifysender/internal/broker"
	natsbroker "github.com/lupppig/notifysender/internal/broker/nats"
	"github.com/lupppig/notifysender/internal/channel"
	"github.com/lupppig/notifysender/internal/channel/ses"
	"github.com/lupppig/notifysender/internal/channel/sns"
	"github.com/lupppig/notifysender/internal/channel/webpush"
	"github.com/lupppig/notifysender/internal/config"
	"github.com/lupppig/notifysender/internal/directory"
	dirdynamodb "github.com/lupppig/notifysender/internal/directory/dynamodb"
	dirpostgres "github.com/lupppig/notifysender/internal/directory/postgres"
	"github.com/lupppig/notifysender/internal/dispatch"
	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/events"
	"github.com/lupppig/notifysender/internal/httpclient"
	"github.com/lupppig/notifysender/internal/ledger"
	"github.com/lupppig/notifysender/internal/ledger/ic"
	"github.com/lupppig/notifysender/internal/reconcile"
	"github.com/lupppig/notifysender/internal/retry"
	"github.com/lupppig/notifysender/internal/runner"
	"github.com/lupppig/notifysender/internal/store"
	storedynamodb "github.com/lupppig/notifysender/internal/store/dynamodb"
	"github.com/lupppig/notifysender/internal/store/memory"
	storepostgres "github.com/lupppig/notifysender/internal/store/postgres"
	"github.com/lupppig/notifysender/internal/store/sqlite"
)

type App struct {
	Config     *config.Config
	Hub        *events.Hub
	Ledger     ledger.Gateway
	Store      store.Store
	Dispatcher *dispatch.Dispatcher
	Reconciler *reconcile.Reconciler
	Runner     *runner.Runner
	// NATS is nil unless events.nats_url is configured.
	NATS *natsbroker.Publisher

	aws     *aws.Config
	pg      *storepostgres.DB
	closers []func() error
}

// New opens every configured backend. On error, whatever was opened is
// closed again.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg, Hub: events.NewHub()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.Ledger, err = a.openLedger(); err != nil {
		return nil, err
	}
	if a.Store, err = a.openStore(ctx); err != nil {
		return nil, err
	}
	dir, err := a.openDirectory(ctx)
	if err != nil {
		return nil, err
	}
	channels, err := a.buildChannels(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := a.openEvents(ctx)
	if err != nil {
		return nil, err
	}

	a.Dispatcher = dispatch.New(cfg.Dispatch, dispatch.Deps{
		Ledger:    a.Ledger,
		Directory: dir,
		Channels:  channels,
		State:     a.Store,
		Outcomes:  a.Store,
		Policy:    retry.NewPolicy(cfg.Retry),
		Events:    pub,
	})
	a.Reconciler = reconcile.New(cfg.Reconcile, a.Ledger, a.Store, pub)
	a.Runner = runner.New(a.Dispatcher, a.Reconciler)
	return a, nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.aws != nil {
		return *a.aws, nil
	}
	cfg, err := awsconfig.Load(ctx, a.Config.AWS)
	if err != nil {
		return aws.Config{}, err
	}
	a.aws = &cfg
	return cfg, nil
}

func (a *App) postgres(ctx context.Context, dsn string) (*storepostgres.DB, error) {
	if a.pg != nil {
		return a.pg, nil
	}
	db, err := storepostgres.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	a.pg = db
	a.onClose(func() error { db.Close(); return nil })
	return db, nil
}

func (a *App) openLedger() (ledger.Gateway, error) {
	switch a.Config.Ledger.Backend {
	case "file":
		return ledger.LoadFile(a.Config.Ledger.File)
	default:
		return ic.Dial(a.Config.Ledger.IC)
	}
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	cfg := a.Config.Store
	switch cfg.Backend {
	case "memory":
		return memory.New(), nil
	case "postgres":
		db, err := a.postgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.CreateTables {
			if err := db.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return storepostgres.NewStore(db), nil
	case "dynamodb":
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		client := awsdynamodb.NewFromConfig(awsCfg)
		if cfg.CreateTables {
			if err := storedynamodb.CreateTables(ctx, client, cfg.DynamoDB); err != nil {
				return nil, err
			}
		}
		return storedynamodb.New(client, cfg.DynamoDB), nil
	default:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.onClose(s.Close)
		return s, nil
	}
}

func (a *App) openDirectory(ctx context.Context) (directory.Directory, error) {
	cfg := a.Config.Directory

	var dir directory.Directory
	switch cfg.Backend {
	case "postgres":
		dsn := cfg.PostgresDSN
		if dsn == "" {
			dsn = a.Config.Store.PostgresDSN
		}
		db, err := a.postgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		dir = dirpostgres.New(db.Pool)
	case "dynamodb":
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		dir = dirdynamodb.New(awsdynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
	default:
		f, err := directory.LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		dir = f
	}

	if cfg.Cache.RedisAddr == "" {
		return dir, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	a.onClose(client.Close)
	return directory.NewCached(dir, client, cfg.Cache.TTL), nil
}

func (a *App) buildChannels(ctx context.Context) (channel.Registry, error) {
	cfg := a.Config.Channels
	reg := channel.Registry{}

	switch cfg.Push.Backend {
	case "sns":
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		reg[domain.ChannelPush] = channel.RateLimited(sns.New(awssns.NewFromConfig(awsCfg)), cfg.Push.RateLimit, cfg.Push.Burst)
	case "webpush":
		client := httpclient.New(a.Config.Dispatch.SendTimeout)
		reg[domain.ChannelPush] = channel.RateLimited(webpush.New(client, cfg.Push.Webpush), cfg.Push.RateLimit, cfg.Push.Burst)
	}

	if cfg.Email.Backend == "ses" {
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		reg[domain.ChannelEmail] = channel.RateLimited(ses.New(sesv2.NewFromConfig(awsCfg), cfg.Email.SES), cfg.Email.RateLimit, cfg.Email.Burst)
	}

	return reg, nil
}

func (a *App) openEvents(ctx context.Context) (events.Publisher, error) {
	if a.Config.Events.NATSURL == "" {
		return a.Hub, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	p, err := natsbroker.New(connectCtx, a.Config.Events.NATSURL)
	if err != nil {
		return nil, err
	}
	a.NATS = p
	a.onClose(p.Close)

	slog.Info("publishing delivery events to NATS",
		slog.String("code", "SYS_STARTUP"),
		slog.String("stream", natsbroker.StreamName),
	)
	return events.Multi{a.Hub, broker.EventSink{Publisher: p, Prefix: natsbroker.SubjectPrefix}}, nil
}
