// Command coordinator is the episode pipeline's single long-running
// process: it opens the store, reaps any orphaned jobs left over from a
// prior crash, starts the download and transcribe worker pools, and serves
// the operator HTTP API, with a signal-driven graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"episode_pipeline/internal/config"
	"episode_pipeline/internal/discovery"
	"episode_pipeline/internal/diskmonitor"
	"episode_pipeline/internal/download"
	"episode_pipeline/internal/httpapi"
	"episode_pipeline/internal/metadatacache"
	"episode_pipeline/internal/stagerunner"
	"episode_pipeline/internal/store"
	"episode_pipeline/internal/titlesource"
	"episode_pipeline/internal/transcribe"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg := config.LoadConfig()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := store.Open(cfg.WorkRoot + "/jobs.db")
	if err != nil {
		logger.WithError(err).Fatal("failed to open store")
	}
	defer st.Close()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	reaped, err := st.ReapOrphans(startupCtx, cfg.ReapStaleAfter())
	startupCancel()
	if err != nil {
		logger.WithError(err).Fatal("reap_orphans failed at startup")
	}
	if reaped > 0 {
		logger.WithField("count", reaped).Warn("reaped orphaned jobs from a prior run")
	}

	cacheDir := cfg.WorkRoot + "/cache"
	cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 10*time.Second)
	cache, err := metadatacache.New(cacheCtx, metadatacache.Config{
		Backend:     cfg.MetadataCacheBackend,
		LocalDir:    cacheDir,
		S3Endpoint:  cfg.S3Endpoint,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
		S3UseSSL:    cfg.S3UseSSL,
	})
	cacheCancel()
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize metadata cache")
	}

	disk := diskmonitor.New(
		cfg.BulkRoot, cfg.WorkRoot, cacheDir,
		cfg.HardLimitGB, cfg.PauseThresholdGB, cfg.ResumeThresholdGB,
		cfg.DiskCacheDuration(), logger,
	)

	ctx, cancel := context.WithCancel(context.Background())

	downloadAdapter := download.New(download.Config{
		BulkRoot:       cfg.BulkRoot,
		WorkRoot:       cfg.WorkRoot,
		DownloaderPath: envOr("DOWNLOADER_PATH", "episode-downloader"),
		Timeout:        time.Duration(cfg.DownloaderTimeoutSeconds) * time.Second,
	})
	downloadExecutor := download.NewStageExecutor(downloadAdapter, st)
	downloadRunner := stagerunner.New(stagerunner.Config{
		WorkerTypePrefix: "download",
		Concurrency:      cfg.DownloadConcurrency,
		PollInterval:     2 * time.Second,
		PauseInterval:    cfg.DiskCheckInterval(),
		HeartbeatEvery:   cfg.HeartbeatInterval(),
		SubprocessGrace:  cfg.SubprocessGrace(),
	}, st, downloadExecutor, disk, logger)

	transcribeAdapter := transcribe.New(transcribe.Config{
		WorkRoot:             cfg.WorkRoot,
		ExtractorPath:        envOr("AUDIO_EXTRACTOR_PATH", "audio-extractor"),
		TranscriberPath:      envOr("TRANSCRIBER_PATH", "speech-to-text"),
		ExtractionTimeout:    time.Duration(cfg.ExtractionTimeoutSeconds) * time.Second,
		TranscriptionTimeout: time.Duration(cfg.TranscriptionTimeoutSeconds) * time.Second,
	})
	transcribeExecutor := transcribe.NewStageExecutor(transcribeAdapter, st, disk, logger)
	transcribeRunner := stagerunner.New(stagerunner.Config{
		WorkerTypePrefix: "transcribe",
		Concurrency:      cfg.TranscribeConcurrency,
		PollInterval:     2 * time.Second,
		PauseInterval:    cfg.DiskCheckInterval(),
		HeartbeatEvery:   cfg.HeartbeatInterval(),
		SubprocessGrace:  cfg.SubprocessGrace(),
	}, st, transcribeExecutor, disk, logger)

	downloadRunner.Start(ctx)
	transcribeRunner.Start(ctx)

	discoverySource := &discovery.FakeSource{}
	go runDiscoveryLoop(ctx, st, cache, discoverySource, logger)

	titleResolver := titlesource.FakeResolver{}
	go runTitleSelectionLoop(ctx, st, titleResolver, logger)

	handlers := httpapi.NewHandlers(st, disk, logger)
	router := httpapi.NewRouter(handlers)

	srv := newServer(cfg.ServerPort, router)

	go func() {
		logger.WithField("port", cfg.ServerPort).Info("episode pipeline coordinator starting")
		if err := srv.ListenAndServe(); err != nil && !isServerClosed(err) {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down coordinator...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceSeconds)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http server forced to shutdown")
	}

	downloadRunner.Wait()
	transcribeRunner.Wait()

	logger.Info("coordinator stopped")
}

// runDiscoveryLoop periodically asks src for new anime/episode candidates,
// caches each candidate's raw metadata, and enqueues jobs for every episode
// via the thin discovery.Ingest pass-through to the job store.
func runDiscoveryLoop(ctx context.Context, st *store.Store, cache metadatacache.Cache, src discovery.Source, logger *logrus.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	runOnce := func() {
		candidates, err := src.Discover(ctx)
		if err != nil {
			logger.WithError(err).Warn("discovery.Discover failed")
			return
		}
		for _, c := range candidates {
			if blob, err := json.Marshal(c.Anime); err == nil {
				cacheKey := fmt.Sprintf("%d.json", c.Anime.MALID)
				if err := cache.Put(ctx, cacheKey, blob); err != nil {
					logger.WithError(err).WithField("mal_id", c.Anime.MALID).Warn("failed to cache anime metadata")
				}
			}
		}
		if err := discovery.Ingest(ctx, st, candidates, 0); err != nil {
			logger.WithError(err).Warn("discovery.Ingest failed")
		}
	}

	runOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

// runTitleSelectionLoop periodically resolves a title-selection decision for
// every anime that doesn't have one cached yet, via the thin
// titlesource.Apply pass-through to the job store. Without a cached selection the
// download stage fails the anime's jobs with KindMissingSel, which returns them
// to queued until their retry budget runs out and then moves them to failed;
// only jobs still queued when this loop caches a selection go on to download.
func runTitleSelectionLoop(ctx context.Context, st *store.Store, resolver titlesource.Resolver, logger *logrus.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	runOnce := func() {
		pending, err := st.ListAnimeMissingSelection(ctx)
		if err != nil {
			logger.WithError(err).Warn("list_anime_missing_selection failed")
			return
		}
		for _, a := range pending {
			candidates := a.Synonyms
			if a.TitleEnglish != "" {
				candidates = append([]string{a.TitleEnglish}, candidates...)
			}
			candidates = append([]string{a.Title}, candidates...)

			q := titlesource.Query{MALID: a.MALID, Title: a.Title, MALEpisodes: a.TotalEpisodes, Candidates: candidates}
			if _, err := titlesource.Apply(ctx, st, resolver, q); err != nil {
				logger.WithError(err).WithField("mal_id", a.MALID).Warn("titlesource.Apply failed")
			}
		}
	}

	runOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func isServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
