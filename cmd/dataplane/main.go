package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/plantrack/dataplane/pkg/blob"
	"github.com/plantrack/dataplane/pkg/dataset"
	"github.com/plantrack/dataplane/pkg/dataset/pg"
	"github.com/plantrack/dataplane/pkg/metrics"
	"github.com/plantrack/dataplane/pkg/registry"
	"github.com/plantrack/dataplane/pkg/scheduler"
	"github.com/plantrack/dataplane/pkg/server"
	"github.com/plantrack/dataplane/pkg/source"
	"github.com/plantrack/dataplane/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "Enable pprof server on localhost:6060")
	listenAddrFlag := flag.String("listen-addr", ":8080", "Address to listen on for the dataset API")
	corsOriginsFlag := flag.StringSlice("cors-origin", nil, "Allowed CORS origin for the web frontend (repeatable)")

	// Storage
	postgresDSNFlag := flag.String("postgres-dsn", "", "PostgreSQL connection string (or set POSTGRES_DSN env var); empty runs the in-memory store")
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	blobDirFlag := flag.String("blob-dir", "./data/uploads", "Directory for uploaded files when S3 is not configured")
	s3BucketFlag := flag.String("s3-bucket", "", "S3 bucket for uploaded files (or set S3_BUCKET env var)")
	s3PrefixFlag := flag.String("s3-prefix", "uploads", "Key prefix inside the S3 bucket")

	// Live sheet provider
	sheetBaseURLFlag := flag.String("sheet-base-url", "", "Base URL of the sheet provider API (or set SHEET_BASE_URL env var)")
	sheetTokenFlag := flag.String("sheet-token", "", "Static bearer token for the sheet provider (or set SHEET_TOKEN env var)")
	syncIntervalFlag := flag.Duration("sync-interval", 5*time.Minute, "How often live sheets are re-synced")
	syncConcurrencyFlag := flag.Int("sync-concurrency", 4, "Maximum concurrent dataset syncs per sweep")

	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 15*time.Second, "Maximum time to wait for graceful shutdown")

	flag.Parse()

	// Optional .env for local development; a missing file is fine.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	// Override flags with environment variables if set
	if env := os.Getenv("POSTGRES_DSN"); env != "" {
		*postgresDSNFlag = env
	}
	if env := os.Getenv("S3_BUCKET"); env != "" {
		*s3BucketFlag = env
	}
	if env := os.Getenv("SHEET_BASE_URL"); env != "" {
		*sheetBaseURLFlag = env
	}
	if env := os.Getenv("SHEET_TOKEN"); env != "" {
		*sheetTokenFlag = env
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		sentryEnv := os.Getenv("SENTRY_ENVIRONMENT")
		if sentryEnv == "" {
			sentryEnv = "development"
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: sentryEnv,
			Release:     version,
		}); err != nil {
			log.Warn("failed to initialize sentry, continuing without it", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	if *enablePprofFlag {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Store
	var store dataset.Store
	if *postgresDSNFlag != "" {
		if *migrateFlag {
			log.Info("running database migrations")
			if err := pg.Migrate(*postgresDSNFlag); err != nil {
				return err
			}
		}
		pgStore, err := pg.New(ctx, *postgresDSNFlag)
		if err != nil {
			return err
		}
		store = pgStore
		log.Info("connected to postgres")
	} else {
		store = dataset.NewMemStore()
		log.Warn("no postgres dsn configured, using in-memory store; data is lost on restart")
	}
	defer store.Close()

	// Blob storage
	var blobs blob.Store
	if *s3BucketFlag != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		blobs = blob.NewS3Store(s3.NewFromConfig(awsCfg), *s3BucketFlag, *s3PrefixFlag)
		log.Info("using s3 blob storage", "bucket", *s3BucketFlag, "prefix", *s3PrefixFlag)
	} else {
		local, err := blob.NewLocalStore(*blobDirFlag)
		if err != nil {
			return err
		}
		blobs = local
		log.Info("using local blob storage", "dir", *blobDirFlag)
	}

	// Sheet provider
	var sheets *source.SheetClient
	if *sheetBaseURLFlag != "" {
		sheets = source.NewSheetClient(*sheetBaseURLFlag, source.StaticTokenSource(*sheetTokenFlag))
		log.Info("live sheet imports enabled", "base_url", *sheetBaseURLFlag)
	} else {
		log.Info("no sheet provider configured, live sheet imports disabled")
	}

	reg, err := registry.New(registry.Config{
		Logger: log,
		Store:  store,
		Blobs:  blobs,
		Sheets: sheets,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      *listenAddrFlag,
		Registry:        reg,
		Store:           store,
		AllowedOrigins:  *corsOriginsFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		Version:         server.VersionInfo{Version: version, Commit: commit, Date: date},
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if sheets != nil {
		sched, err := scheduler.New(scheduler.Config{
			Logger:        log,
			Syncer:        reg,
			Interval:      *syncIntervalFlag,
			MaxConcurrent: *syncConcurrencyFlag,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("dataplane shut down")
	return nil
}
