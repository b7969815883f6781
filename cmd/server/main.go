package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-downloader/internal/downloader"
	"media-downloader/internal/platform/config"
	"media-downloader/internal/platform/ffmpeg"
	"media-downloader/internal/platform/logger"
	"media-downloader/internal/platform/metrics"
	"media-downloader/internal/platform/ytdlp"
	"media-downloader/internal/storage/postgres"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	databaseURL := config.GetEnv("DATABASE_URL", "")
	tmpDir := config.GetEnv("TMP_DIR", os.TempDir())
	outboxDir := config.GetEnv("OUTBOX_DIR", "outbox")

	policy := downloader.SizeFallbackPolicy{
		VideoLimitBytes: config.GetEnvInt64("VIDEO_LIMIT_BYTES", downloader.DefaultVideoLimitBytes),
		AudioLimitBytes: config.GetEnvInt64("AUDIO_LIMIT_BYTES", downloader.DefaultAudioLimitBytes),
		ImageLimitBytes: config.GetEnvInt64("IMAGE_LIMIT_BYTES", downloader.DefaultImageLimitBytes),
	}
	rateWindow := time.Duration(config.GetEnvInt("RATE_WINDOW_MINUTES", 60)) * time.Minute
	rateMax := config.GetEnvInt("RATE_MAX", downloader.DefaultRateMax)
	historyKeep := config.GetEnvInt("HISTORY_KEEP", downloader.DefaultHistoryKeep)
	sessionTTL := time.Duration(config.GetEnvInt("SESSION_TTL_MINUTES", 60)) * time.Minute

	log := logger.New(logLevel, logFormat)

	var history downloader.HistoryStore
	if databaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pg, err := postgres.New(ctx, databaseURL)
		cancel()
		if err != nil {
			log.Error("postgres init failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		history = pg
	} else {
		log.Warn("DATABASE_URL not set, history kept in memory only")
		history = downloader.NewInMemoryHistory()
	}

	deliver, err := downloader.NewOutboxDeliverer(outboxDir, log)
	if err != nil {
		log.Error("outbox init failed", "error", err)
		os.Exit(1)
	}

	sessions := downloader.NewSessionStore()
	met := metrics.New()
	orc := downloader.NewOrchestrator(downloader.OrchestratorConfig{
		Sessions:  sessions,
		Limiter:   downloader.NewRateLimiter(rateWindow, rateMax),
		Extractor: ytdlp.New(config.GetEnv("YTDLP_BIN", ""), log),
		Segmenter: ffmpeg.New(config.GetEnv("FFMPEG_BIN", ""), config.GetEnv("FFPROBE_BIN", "")),
		Deliverer: deliver,
		History:   downloader.NewRecorder(history, historyKeep, log),
		Policy:    policy,
		Logger:    log,
		Metrics:   met,
		Alert: func(owner downloader.Identity, url string, err error) {
			log.Error("operator alert", "owner", owner, "url", url, "error", err)
		},
		TempRoot:   tmpDir,
		SessionTTL: sessionTTL,
	})
	h := downloader.NewHandler(orc, log)

	reapCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go orc.RunReaper(reapCtx, time.Minute)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(sessions.ActiveCount()) }).ServeHTTP(w, r)
	})
	h.Register(r)
	r.Handle("/outbox/*", http.StripPrefix("/outbox/", http.FileServer(http.Dir(deliver.Root()))))

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"rate_max", rateMax,
		"history_keep", historyKeep,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
