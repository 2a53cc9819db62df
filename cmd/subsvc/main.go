package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/paykit/subsvc/pkg/api"
	"github.com/paykit/subsvc/pkg/config"
	"github.com/paykit/subsvc/pkg/gateway"
	"github.com/paykit/subsvc/pkg/httpserver"
	"github.com/paykit/subsvc/pkg/logger"
	"github.com/paykit/subsvc/pkg/mongo"
	"github.com/paykit/subsvc/pkg/notifier"
	"github.com/paykit/subsvc/pkg/payment"
	"github.com/paykit/subsvc/pkg/ratelimit"
	"github.com/paykit/subsvc/pkg/redis"
	"github.com/paykit/subsvc/pkg/roles"
	"github.com/paykit/subsvc/pkg/subscription"
	"github.com/paykit/subsvc/pkg/webhook"
)

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("service terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var logCfg logger.Config
	config.MustLoad(&logCfg)
	log := logger.New(logCfg, os.Stdout)
	slog.SetDefault(log)

	var mongoCfg mongo.Config
	var redisCfg redis.Config
	var stripeCfg gateway.StripeConfig
	var planCfg subscription.PlanResolverConfig
	var postmarkCfg notifier.PostmarkConfig
	var limitCfg ratelimit.Config
	var httpCfg httpserver.Config
	config.MustLoad(&mongoCfg)
	config.MustLoad(&redisCfg)
	config.MustLoad(&stripeCfg)
	config.MustLoad(&planCfg)
	config.MustLoad(&postmarkCfg)
	config.MustLoad(&limitCfg)
	config.MustLoad(&httpCfg)

	db, err := mongo.ConnectDatabase(ctx, mongoCfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Client().Disconnect(context.Background()) }()

	redisClient, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	subStore := subscription.NewMongoStore(db)
	payStore := payment.NewMongoStore(db)
	roleStore := roles.NewMongoStore(db)
	for _, ensure := range []func(context.Context) error{
		subStore.EnsureIndexes,
		payStore.EnsureIndexes,
		roleStore.EnsureIndexes,
	} {
		if err := ensure(ctx); err != nil {
			return err
		}
	}

	stripeGw, err := gateway.NewStripeGateway(stripeCfg)
	if err != nil {
		return err
	}

	plans, err := subscription.NewPlanResolver(planCfg, log)
	if err != nil {
		return err
	}

	var notify notifier.Notifier
	if pm, err := notifier.NewPostmarkNotifier(postmarkCfg); err == nil {
		notify = pm
	} else {
		log.Warn("email notifier not configured, logging notifications instead", slog.Any("error", err))
		notify = notifier.NewLogNotifier(log)
	}

	engine := subscription.NewEngine(subStore, stripeGw, plans, roleStore, notify,
		subscription.WithLogger(log))

	dispatcher := webhook.NewDispatcher(stripeGw, log)
	webhook.NewHandlers(engine, payStore, log).Register(dispatcher)

	limiter, err := ratelimit.New(ratelimit.NewRedisStore(redisClient), limitCfg)
	if err != nil {
		return err
	}

	mongoCheck := mongo.Healthcheck(db.Client())
	redisCheck := redis.Healthcheck(redisClient)
	router := api.NewRouter(api.RouterDeps{
		Handler:  api.NewHandler(engine, log),
		Webhooks: dispatcher,
		Limiter:  limiter,
		Healthcheck: func(ctx context.Context) error {
			return errors.Join(mongoCheck(ctx), redisCheck(ctx))
		},
	})

	return httpserver.New(httpCfg, log).Run(ctx, router)
}
