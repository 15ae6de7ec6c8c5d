package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "swarmstream/internal/api/http"
	"swarmstream/internal/app"
	"swarmstream/internal/metrics"
	mongorepo "swarmstream/internal/repository/mongo"
	"swarmstream/internal/services/media/ffprobe"
	"swarmstream/internal/services/media/hls"
	"swarmstream/internal/services/media/subtitles"
	"swarmstream/internal/services/torrent/engine/anacrolix"
	"swarmstream/internal/telemetry"
	"swarmstream/internal/usecase"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "swarmstream")
	if err != nil {
		logger.Warn("otel init failed", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "swarmstream"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("dataDir", cfg.TorrentDataDir),
		slog.String("subtitleCacheDir", cfg.SubtitleCacheDir),
		slog.String("hlsDir", cfg.HLSDir),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI,
		options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.Any("error", err))
		os.Exit(1)
	}

	repo := mongorepo.NewTorrentRepository(mongoClient, cfg.MongoDatabase)
	trackStore := mongorepo.NewTrackStore(mongoClient, cfg.MongoDatabase)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.Any("error", err))
	}
	if err := trackStore.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure track indexes failed", slog.Any("error", err))
	}

	engine, err := anacrolix.New(anacrolix.Config{DataDir: cfg.TorrentDataDir})
	if err != nil {
		logger.Error("torrent engine init failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Re-announce previously added torrents in the background so the
	// HTTP server comes up immediately.
	reseedUC := usecase.Reseed{Engine: engine, Repo: repo, Logger: logger}
	go func() {
		if _, err := reseedUC.Execute(rootCtx); err != nil {
			logger.Warn("reseed failed", slog.Any("error", err))
		}
	}()

	prober := ffprobe.New(cfg.FFProbePath)
	extractor := subtitles.NewExtractor(subtitles.Config{
		FFmpegPath:       cfg.FFMPEGPath,
		CacheDir:         cfg.SubtitleCacheDir,
		HeadFraction:     cfg.SubtitleHeadFraction,
		CompleteFraction: cfg.SubtitleCompleteFraction,
		HeadWaitTimeout:  cfg.SubtitleWaitTimeout,
	}, cfg.TorrentDataDir, trackStore, prober, logger)

	// Segment dirs do not survive restarts; whatever is left over is stale.
	if err := os.RemoveAll(cfg.HLSDir); err != nil {
		logger.Warn("hls dir cleanup failed", slog.Any("error", err))
	}
	hlsManager := hls.NewManager(hls.Config{
		FFmpegPath:     cfg.FFMPEGPath,
		Dir:            cfg.HLSDir,
		MinFraction:    cfg.HLSMinFraction,
		StartupTimeout: cfg.HLSStartupTimeout,
		AudioBitrate:   cfg.HLSAudioBitrate,
	}, cfg.TorrentDataDir, logger)

	addUC := &usecase.AddTorrent{Engine: engine, Repo: repo, MetadataTimeout: cfg.MetadataWaitTimeout}
	removeUC := &usecase.RemoveTorrent{Engine: engine, Repo: repo, Tracks: extractor, Jobs: hlsManager}
	streamUC := &usecase.StreamFile{Engine: engine, Repo: repo, ReadaheadBytes: cfg.StreamReadaheadBytes}
	analyzeUC := &usecase.AnalyzeFile{
		Engine:         engine,
		Repo:           repo,
		Prober:         prober,
		DataDir:        cfg.TorrentDataDir,
		MinHeaderBytes: cfg.ProbeMinHeaderBytes,
		MinFraction:    cfg.ProbeMinFraction,
	}

	governor := apihttp.NewGovernor(apihttp.GovernorConfig{
		GlobalRPS:     cfg.RateGlobalRPS,
		GlobalBurst:   cfg.RateGlobalBurst,
		ClientRPS:     cfg.RateClientRPS,
		ClientBurst:   cfg.RateClientBurst,
		BlockCooldown: cfg.RateBlockCooldown,
		EntryTTL:      cfg.RateEntryTTL,
	})

	handler := apihttp.NewServer(engine, addUC,
		apihttp.WithLogger(logger),
		apihttp.WithRepository(repo),
		apihttp.WithRemoveTorrent(removeUC),
		apihttp.WithStreamFile(streamUC, cfg.StreamInitialChunkBytes, cfg.StreamMaxChunkBytes),
		apihttp.WithAnalyzeFile(analyzeUC),
		apihttp.WithSubtitles(extractor),
		apihttp.WithHLS(hlsManager),
		apihttp.WithGovernor(governor),
		apihttp.WithMetadataTimeout(cfg.MetadataWaitTimeout),
		apihttp.WithMetricsHandler(promhttp.Handler()),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.Any("error", err))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	hlsManager.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.Any("error", err))
	}
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.Any("error", err))
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.Any("error", err))
	}

	logger.Info("server stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
