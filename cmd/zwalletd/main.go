package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/catalogfi/zwallet/builder"
	"github.com/catalogfi/zwallet/command"
	"github.com/catalogfi/zwallet/database"
	"github.com/catalogfi/zwallet/mempool"
	"github.com/catalogfi/zwallet/mongodb"
	"github.com/catalogfi/zwallet/netsync"
	"github.com/catalogfi/zwallet/peer"
	"github.com/catalogfi/zwallet/rpc"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/store"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const syncInterval = 30 * time.Second

func envUint(name string, def uint64) uint64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		panic("invalid " + name + ": " + err.Error())
	}
	return n
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func main() {
	config := zap.NewDevelopmentConfig()
	config.OutputPaths = []string{"stdout"}
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	params, err := zcash.ParamsByName(os.Getenv("NETWORK"))
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := envString("DB_DRIVER", "sqlite")
	dsn := os.Getenv("DB_DSN")
	if driver == "sqlite" {
		dsn = envString("DB_PATH", "zwallet-"+params.Name+".db")
	}
	db, err := store.Open(store.Config{Driver: driver, DSN: dsn, Password: os.Getenv("DB_PASSWD")})
	if err != nil {
		panic(err)
	}
	st := store.NewStorage(params, db).SetLogger(logger)

	client, err := peer.Dial(ctx, envString("LWD_URL", "http://127.0.0.1:9067"))
	if err != nil {
		panic(err)
	}
	defer client.Close()
	client.SetLogger(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// The reference backend is self consistent but not consensus compatible.
	backend := shielded.NewReference()
	logger.Warn("using the reference shielded backend")

	syncConfig := netsync.SyncConfig{
		Source:       client,
		Store:        st,
		Backend:      backend,
		Metrics:      netsync.NewMetrics(reg),
		ChunkOutputs: envUint("CHUNK_OUTPUTS", netsync.DefaultChunkOutputs),
		RewindMargin: uint32(envUint("REWIND_MARGIN", netsync.DefaultRewindMargin)),
		FetchMemos:   true,
		Logger:       logger,
	}
	if path := os.Getenv("CACHE_PATH"); path != "" {
		cacheDB, err := database.NewLevelDB(path, logger)
		if err != nil {
			panic(err)
		}
		defer cacheDB.Close()
		syncConfig.Cache = database.NewBlockCache(cacheDB)
	}
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		mirror, mongoClient, err := mongodb.Connect(ctx, uri, envString("MONGO_DB", "zwallet"))
		if err != nil {
			panic(err)
		}
		defer mongoClient.Disconnect(context.Background())
		mirror.SetLogger(logger)
		if err := mirror.EnsureIndexes(ctx); err != nil {
			panic(err)
		}
		syncConfig.Mirror = mirror
	}
	syncManager, err := netsync.NewSyncManager(syncConfig)
	if err != nil {
		panic(err)
	}

	monitor := mempool.New(st, backend).SetLogger(logger)
	wallet := &command.Wallet{
		Store:        st,
		Chain:        client,
		Syncer:       syncManager,
		Mempool:      monitor,
		Backend:      backend,
		Builder:      builder.New(backend, builder.NewReferenceProver(backend), st).SetLogger(logger),
		AnchorOffset: uint32(envUint("ANCHOR_OFFSET", command.DefaultAnchorOffset)),
		ExpiryDelta:  command.DefaultExpiryDelta,
		Logger:       logger,
	}
	rpcServer := rpc.Default(wallet, reg, reg).SetLogger(logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()
		for {
			height, err := syncManager.Sync(ctx)
			switch {
			case errors.Is(err, netsync.ErrBusy):
			case err != nil && ctx.Err() == nil:
				logger.Error("sync failed", zap.Error(err))
			case err == nil:
				logger.Debug("synced", zap.Uint32("height", height))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	g.Go(func() error {
		if err := monitor.Run(ctx, client); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	srv := &http.Server{Addr: envString("RPC_ADDR", ":8080"), Handler: rpcServer.Handler()}
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})
	g.Go(func() error {
		logger.Info("serving json-rpc", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("zwalletd stopped", zap.Error(err))
	}
}
