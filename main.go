package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/mdns/v2"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"assetrules/auth"
	"assetrules/internal/assets"
	"assetrules/internal/bridge"
	"assetrules/internal/config"
	"assetrules/internal/db"
	"assetrules/internal/engine"
	"assetrules/internal/logging"
	"assetrules/internal/models"
	"assetrules/internal/mqtt"
	"assetrules/internal/redis"
	"assetrules/internal/scheduler"
	"assetrules/internal/taskqueue"
	"assetrules/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Nop().Fatalf("failed to load config: %v", err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		logging.Nop().Fatalf("failed to build logger: %v", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx, cfg.DBURL)
	if err != nil {
		log.Fatalw("database connection failed", "err", err)
	}
	defer database.Close()

	redisClient := redis.NewClient(cfg.RedisAddr)
	store := redis.NewStore(redisClient)

	mqttClient, err := mqtt.NewClient(cfg.MQTTBroker, cfg.MQTTClientID)
	if err != nil {
		log.Fatalw("mqtt connection failed", "err", err)
	}

	// Snapshot lookups go cache-first, then the asset directory, with
	// concurrent fetches for the same asset collapsed into one.
	fetcher := assets.NewFetcher(assets.SourceFunc(func(ctx context.Context, assetID string) (*models.Asset, error) {
		if asset, err := store.Snapshot(ctx, assetID); err == nil && asset != nil {
			return asset, nil
		}
		return database.GetAsset(ctx, assetID)
	}))

	evaluator := engine.NewEvaluator(database, snapshotSource{fetcher, store}, log)
	executor := engine.NewExecutor(mqttClient, database, log)

	queue := taskqueue.NewQueue(cfg.RedisAddr, log)
	defer queue.Close()

	worker := taskqueue.NewWorker(cfg.RedisAddr, taskqueue.Deps{
		DB:        database,
		Evaluator: evaluator,
		Executor:  executor,
		Log:       log,
	})
	go func() {
		if err := worker.Run(); err != nil {
			log.Fatalw("task workers failed", "err", err)
		}
	}()

	sched := scheduler.New(database, queue, log)
	if err := sched.Start(); err != nil {
		log.Fatalw("scheduler start failed", "err", err)
	}
	if err := sched.LoadSchedules(ctx); err != nil {
		log.Fatalw("schedule load failed", "err", err)
	}

	eng := engine.New(mqttClient, store, database, queue, log)
	if err := eng.Start(ctx); err != nil {
		log.Fatalw("engine start failed", "err", err)
	}

	authModule := auth.New(database.Pool(), redisClient, cfg.JWTSecret)
	server := web.NewServer(database, authModule, engineHooks{eng}, sched, cfg.Realm, log)
	go func() {
		if err := server.Start(cfg.HTTPAddr); err != nil {
			log.Fatalw("http server failed", "err", err)
		}
	}()

	go startMDNS(cfg.ServiceName+".local", log)

	if cfg.BridgeWSURL != "" {
		go bridge.Run(ctx, bridge.Config{
			PublicWS: cfg.BridgeWSURL,
			LocalURL: "http://127.0.0.1" + cfg.HTTPAddr,
			AgentID:  cfg.BridgeID,
		}, log)
	} else {
		log.Info("remote access bridge disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	cancel()
	eng.Stop()
	sched.Stop()
	worker.Shutdown()
	log.Info("shutdown complete")
}

// snapshotSource adapts the deduplicating fetcher plus the redis store to
// the evaluator's snapshot interface.
type snapshotSource struct {
	fetcher *assets.Fetcher
	store   *redis.Store
}

func (s snapshotSource) Snapshot(ctx context.Context, assetID string) (*models.Asset, error) {
	return s.fetcher.Snapshot(ctx, assetID)
}

func (s snapshotSource) PreviousSnapshot(ctx context.Context, assetID string) (*models.Asset, error) {
	return s.store.PreviousSnapshot(ctx, assetID)
}

// engineHooks adapts the engine to the API's notification interface.
type engineHooks struct {
	eng *engine.Engine
}

func (h engineHooks) RefreshRulesetAssociations(ctx context.Context, rulesetID int64) error {
	return h.eng.RefreshRulesetAssociations(ctx, rulesetID)
}

func (h engineHooks) RemoveRulesetAssociations(ctx context.Context, rulesetID int64) error {
	return h.eng.RemoveRulesetAssociations(ctx, rulesetID)
}

func (h engineHooks) TriggerRulesetEvaluation(rulesetID int64) {
	h.eng.TriggerRulesetEvaluation(rulesetID)
}

func startMDNS(localName string, log *zap.SugaredLogger) {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		log.Warnw("mdns udp4 resolve failed", "err", err)
		return
	}
	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		log.Warnw("mdns udp6 resolve failed", "err", err)
		return
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		log.Warnw("mdns udp4 listen failed", "err", err)
		return
	}
	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		log.Warnw("mdns udp6 listen failed", "err", err)
		return
	}

	_, err = mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{localName},
	})
	if err != nil {
		log.Warnw("mdns server start failed", "err", err)
		return
	}
	log.Infow("mdns advertisement started", "name", localName)
}
