package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/retinalab/gazecap/internal/api"
	"github.com/retinalab/gazecap/internal/capture"
	"github.com/retinalab/gazecap/internal/config"
	"github.com/retinalab/gazecap/internal/db"
	"github.com/retinalab/gazecap/internal/export"
	"github.com/retinalab/gazecap/internal/gaze"
	"github.com/retinalab/gazecap/internal/recorder"
	"github.com/retinalab/gazecap/internal/store"
	"github.com/retinalab/gazecap/internal/tracking"
	"github.com/retinalab/gazecap/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode with a simulated pointer gaze source")
	listen     = flag.String("listen", ":8080", "Listen address")
	dbFile     = flag.String("db", "gaze_data.db", "Path to the sqlite database file")
	trackerURL = flag.String("tracker", "", "Websocket tracker server URL (empty disables the socket source)")
	configPath = flag.String("config", "", "Path to a JSON tuning config (optional)")
	exportDir  = flag.String("export-dir", "", "Directory for on-demand session exports (empty disables the export endpoint)")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

const cleanupInterval = 10 * time.Minute

// driveSimulatedGaze feeds the pointer adaptor with a random walk across the
// display at roughly tracker rate. It stands in for a participant moving
// their eyes during development.
func driveSimulatedGaze(ctx context.Context, p *tracking.PointerAdaptor, width, height float64) {
	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()

	x, y := width/2, height/2
	for {
		select {
		case <-ticker.C:
			x += (rand.Float64() - 0.5) * 40
			y += (rand.Float64() - 0.5) * 40
			if x < 0 {
				x = 0
			}
			if x > width {
				x = width
			}
			if y < 0 {
				y = 0
			}
			if y > height {
				y = height
			}
			p.Move(x, y)
		case <-ctx.Done():
			return
		}
	}
}

// Main
func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("gazecap %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	database, err := db.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	st := store.NewStore(database)

	// No physical display device exists server-side; capture runs on the
	// synthetic device until a platform backend is plugged in.
	capturer := &capture.MockCapturer{
		EmitInterval: time.Duration(tuning.GetChunkDurationMs()) * time.Millisecond,
	}

	rec := recorder.New(recorder.Config{
		Store:          st,
		Capturer:       capturer,
		BufferSize:     tuning.GetBufferSize(),
		FlushInterval:  tuning.GetFlushInterval(),
		ExpectedRateHz: tuning.GetSampleRateHz(),
	})

	trackers := tracking.NewManager(rec, func(id string, status gaze.TrackingStatus) {
		log.Printf("tracking source %q: connected=%v tracking=%v", id, status.Connected, status.Tracking)
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rec.Initialize(ctx); err != nil {
		log.Fatalf("failed to initialize recorder: %v", err)
	}

	// connect the gaze source: simulated pointer in dev mode, socket tracker
	// when a URL is configured
	if *devMode {
		pointer := tracking.NewPointerAdaptor(tracking.PointerAdaptorConfig{
			Sim:    tracking.DefaultPointerSim(),
			Filter: gaze.NewPointFilter(1.0, 0.007, 1.0),
		})
		if err := trackers.Connect(ctx, pointer); err != nil {
			log.Fatalf("failed to connect pointer source: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			driveSimulatedGaze(ctx, pointer, 1920, 1080)
			log.Print("simulated gaze routine terminated")
		}()
	} else if url := firstNonEmpty(*trackerURL, envTrackerURL(tuning)); url != "" {
		socket := tracking.NewSocketAdaptor(tracking.SocketAdaptorConfig{
			URL:       url,
			Reconnect: tuning.GetTrackerReconnect(),
		})
		if err := trackers.Connect(ctx, socket); err != nil {
			log.Printf("tracker server unavailable, continuing without: %v", err)
		}
	}

	// periodic retention enforcement
	if tuning.GetCleanupEnabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(cleanupInterval)
			defer ticker.Stop()
			policy := store.DefaultCleanupPolicy()
			policy.MaxChunkAge = tuning.GetMaxChunkAge()
			policy.BudgetBytes = tuning.GetBudgetBytes()
			for {
				select {
				case <-ticker.C:
					result, err := st.Cleanup(ctx, time.Now(), policy)
					if err != nil {
						log.Printf("cleanup error: %v", err)
					} else if n := result.PrunedFirstPass + result.PrunedEscalated; n > 0 {
						log.Printf("cleanup pruned %d chunks", n)
					}
				case <-ctx.Done():
					log.Print("cleanup routine terminated")
					return
				}
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		var exporter *export.Exporter
		if *exportDir != "" {
			exporter = export.NewExporter(*exportDir, nil)
			log.Printf("session exports enabled under %s", exporter.Dir())
		}

		mux := api.NewServer(rec, trackers, st, database, exporter).ServeMux()
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("gazecap %s listening on %s (db %s)", version.Version, *listen, database.Path())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for shutdown, then stop sources so no samples arrive while the
	// recorder drains.
	wg.Wait()

	teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	trackers.DisconnectAll(teardownCtx)
	if err := rec.Reset(teardownCtx); err != nil {
		log.Printf("recorder teardown error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envTrackerURL(tuning *config.TuningConfig) string {
	if tuning.TrackerURL == nil {
		return ""
	}
	return tuning.GetTrackerURL()
}
