package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voxelcast.ai/internal/command"
	"voxelcast.ai/internal/metrics"
	persistlog "voxelcast.ai/internal/persistence/log"
	"voxelcast.ai/internal/protocol"
	"voxelcast.ai/internal/render/batch"
	"voxelcast.ai/internal/render/frames"
	"voxelcast.ai/internal/render/media"
	"voxelcast.ai/internal/render/notify"
	"voxelcast.ai/internal/render/palette"
	"voxelcast.ai/internal/render/pool"
	"voxelcast.ai/internal/render/registry"
	"voxelcast.ai/internal/sim/catalogs"
	"voxelcast.ai/internal/sim/tuning"
	"voxelcast.ai/internal/sim/world"
	"voxelcast.ai/internal/transport/httpapi"
	"voxelcast.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		mediaDir   = flag.String("media", "", "local media directory (default: <data>/media)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite session index")
		redisAddr  = flag.String("redis", "", "redis address for status pub/sub (or set VC_REDIS_ADDR; empty to disable)")
		redisPfx   = flag.String("redis_prefix", "voxelcast:", "redis key and channel prefix")
		ffmpegBin  = flag.String("ffmpeg", "ffmpeg", "ffmpeg binary")
		ffprobeBin = flag.String("ffprobe", "ffprobe", "ffprobe binary")
		snapPath   = flag.String("snapshot", "", "world snapshot file (default: <data>/world/world.snap.zst)")
		noSnapshot = flag.Bool("no_snapshot", false, "neither restore nor save the world snapshot")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if tune.ProtocolVersion != "" && tune.ProtocolVersion != protocol.Version {
		logger.Printf("tuning protocol_version %s differs from server %s", tune.ProtocolVersion, protocol.Version)
	}

	pal, err := buildPalette(cats, tune)
	if err != nil {
		logger.Fatalf("palette: %v", err)
	}
	logger.Printf("palette: %d entries (speed_mode=%v)", pal.Len(), tune.Render.SpeedMode)

	md := strings.TrimSpace(*mediaDir)
	if md == "" {
		md = filepath.Join(*dataDir, "media")
	}
	if err := os.MkdirAll(md, 0o755); err != nil {
		logger.Fatalf("media dir: %v", err)
	}

	// The world outlives the signal context so in-flight batches can finish
	// during shutdown.
	w, err := world.New(world.WorldConfig{
		TickRateHz: tune.World.TickRateHz,
		BoundaryR:  tune.World.BoundaryR,
		Height:     tune.World.Height,
		BlockTypes: len(cats.Blocks.Palette),
	}, log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	sp := strings.TrimSpace(*snapPath)
	if sp == "" {
		sp = filepath.Join(*dataDir, "world", "world.snap.zst")
	}
	if *noSnapshot {
		sp = ""
	}
	if sp != "" {
		if err := restoreWorld(w, sp, cats.Blocks.PaletteDigest, logger); err != nil {
			logger.Fatalf("restore world: %v", err)
		}
	}
	go func() {
		if err := w.Run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("world stopped: %v", err)
		}
	}()

	m := metrics.New(func() metrics.WorldStats {
		wm := w.Metrics()
		return metrics.WorldStats{Tick: wm.Tick, LoadedChunks: wm.LoadedChunks, QueueDepth: wm.QueueDepth}
	})

	// Status fan-out.
	hub := ws.NewHub()
	statusLog := persistlog.NewStatusLogger(*dataDir, logger)
	defer statusLog.Close()
	notifiers := notify.Multi{notify.Log{L: logger}, hub, statusLog}

	rt, err := openRuntimeIndex(*dataDir, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if rt.index != nil {
		defer rt.index.Close()
		if err := rt.index.UpsertCatalogs(*configDir, cats, pal, tune); err != nil {
			logger.Printf("index catalogs: %v", err)
		}
		notifiers = append(notifiers, rt.index)
	}
	pub, err := openPublisher(firstNonEmpty(*redisAddr, os.Getenv("VC_REDIS_ADDR")), *redisPfx, logger)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	if pub != nil {
		defer pub.Close()
		notifiers = append(notifiers, pub)
	}

	applier := batch.New(w, batch.Options{
		Size:     tune.Render.BatchSize,
		Delay:    tune.BatchDelay(),
		Logger:   log.New(os.Stdout, "[batch] ", log.LstdFlags|log.Lmicroseconds),
		Observer: m,
	})
	opener := media.NewOpener(media.Options{
		Dir:          md,
		Client:       &http.Client{Timeout: 10 * time.Minute},
		MaxDownload:  tune.MaxDownloadBytes(),
		FFmpeg:       frames.FFmpegOptions{FFmpeg: *ffmpegBin, FFprobe: *ffprobeBin},
		PollInterval: tune.PollInterval(),
		Notifier:     notifiers,
		Logger:       logger,
	})
	regOpt := registry.Options{
		Limits:   tune.Limits(),
		Palette:  pal,
		Applier:  applier,
		Opener:   opener,
		IO:       pool.New("io", tune.IOWorkers()),
		CPU:      pool.New("cpu", tune.CPUWorkers()),
		Notifier: notifiers,
		Metrics:  m,
		Logger:   log.New(os.Stdout, "[render] ", log.LstdFlags|log.Lmicroseconds),
	}
	if rt.index != nil {
		regOpt.Journal = rt.index
	}
	reg, err := registry.New(regOpt)
	if err != nil {
		logger.Fatalf("registry: %v", err)
	}

	disp := command.NewDispatcher(reg, logger)
	wsSrv := ws.NewServer(ws.Options{
		Exec:    disp,
		Hub:     hub,
		Limits:  reg.Limits,
		Palette: protocol.DigestRef{Digest: cats.Blocks.PaletteDigest, Count: pal.Len()},
		World: protocol.WorldParams{
			TickRateHz: tune.World.TickRateHz,
			BoundaryR:  tune.World.BoundaryR,
			Height:     tune.World.Height,
		},
		Logger: logger,
	})

	apiOpt := httpapi.Options{
		Exec:        disp,
		Sessions:    reg,
		World:       w,
		Metrics:     m.Handler(),
		WS:          wsSrv.Handler(),
		EnableAdmin: envBool("VC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		EnablePprof: envBool("VC_ENABLE_PPROF_HTTP", false),
		Logger:      logger,
	}
	if rt.index != nil {
		apiOpt.History = rt.index
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           httpapi.NewHandler(apiOpt),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	shutdown(reg, w, sp, cats.Blocks.PaletteDigest, tune.ShutdownTimeout(), logger)
}

// shutdown stops every session within timeout, saves the world when snapPath
// is set, then stops the world loop.
func shutdown(reg *registry.Registry, w *world.World, snapPath, paletteDigest string, timeout time.Duration, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := reg.CancelAll(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	if snapPath != "" {
		if err := saveWorld(ctx, w, snapPath, paletteDigest); err != nil {
			logger.Printf("shutdown: save world: %v", err)
		} else {
			logger.Printf("shutdown: world saved to %s", snapPath)
		}
	}
	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		logger.Printf("shutdown: world loop did not stop")
	}
	logger.Printf("shutdown complete")
}

func buildPalette(cats *catalogs.Catalogs, tune tuning.Tuning) (*palette.Palette, error) {
	return palette.Build(cats.Blocks.Candidates(), palette.Options{
		Deny:      tune.Render.Deny,
		SpeedMode: tune.Render.SpeedMode,
		SpeedTags: tune.Render.SpeedTags,
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
