package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/hannes/docguard/config"
	"github.com/hannes/docguard/facescan"
	"github.com/hannes/docguard/parser"
	"github.com/hannes/docguard/pii"
	"github.com/hannes/docguard/server"
)

const TRUE = "true"

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file from current directory")
	} else {
		log.Printf("Note: .env file not found or could not be loaded: %v", err)
	}

	cfg := config.DefaultConfig()

	modelDir := flag.String("model-dir", "", "Path to entity model directory")
	listenAddr := flag.String("listen", "", "Listen address, e.g. :8090")
	flag.Parse()

	loadConfigFromEnv(cfg)

	if *modelDir != "" {
		cfg.Detector.ModelDirectory = *modelDir
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.Printf("Warning: failed to initialize Sentry: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	if cfg.Detector.SharedLibraryPath != "" {
		if err := os.Setenv("ONNXRUNTIME_SHARED_LIBRARY_PATH", cfg.Detector.SharedLibraryPath); err != nil {
			log.Printf("Warning: failed to set ONNX runtime library path: %v", err)
		}
	}

	modelManager, err := pii.NewModelManager(cfg.Detector.ModelDirectory)
	if err != nil {
		log.Fatalf("Failed to create model manager: %v", err)
	}
	defer func() {
		if err := modelManager.Close(); err != nil {
			log.Printf("Warning: failed to close model manager: %v", err)
		}
	}()

	var db pii.DetectionLogDB
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err = pii.NewDetectionLogDB(ctx, pii.DatabaseConfig{
			Enabled:  cfg.Database.Enabled,
			Driver:   cfg.Database.Driver,
			Path:     cfg.Database.Path,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
		})
		cancel()
		if err != nil {
			log.Fatalf("Failed to open detection log database: %v", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("Warning: failed to close database: %v", err)
			}
		}()
	}

	var scanner *facescan.Scanner
	if cfg.FaceScan.Enabled {
		// The face model backend is deployment-specific and wired in at
		// startup; without one the scanner stays disabled.
		if backend := loadFaceBackend(); backend != nil {
			scanner = facescan.NewScanner(backend, cfg.FaceScan.MinConfidence, cfg.FaceScan.Workers)
		} else {
			log.Println("Face scanning enabled but no backend available, skipping")
		}
	}

	pipeline := pii.NewPipeline(pii.PipelineOptions{
		Entities:                pii.NewEntityDetector(modelManager, cfg.Detector.ChunkRunes),
		Parser:                  parser.New(nil, nil),
		Scanner:                 scanner,
		DB:                      db,
		IncludeQuasiWithoutRisk: cfg.Detector.IncludeQuasiWithoutRisk,
	})

	srv := server.NewServer(cfg, pipeline, db)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			sentry.CaptureException(err)
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Warning: graceful shutdown failed: %v", err)
		}
	}
}

// loadFaceBackend resolves the face detection model backend. Deployments
// provide one via a sidecar build; the default build has none.
func loadFaceBackend() facescan.FaceDetector {
	return nil
}

// loadConfigFromEnv overrides configuration with environment variables
func loadConfigFromEnv(cfg *config.Config) {
	loadServerConfig(cfg)
	loadDatabaseConfig(cfg)
	loadDetectorConfig(cfg)
	loadLoggingConfig(cfg)
}

func loadServerConfig(cfg *config.Config) {
	if addr := os.Getenv("DOCGUARD_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if rps := os.Getenv("DOCGUARD_RATE_LIMIT_RPS"); rps != "" {
		if v, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.Server.RateLimitRPS = v
		}
	}
	if burst := os.Getenv("DOCGUARD_RATE_LIMIT_BURST"); burst != "" {
		if v, err := strconv.Atoi(burst); err == nil {
			cfg.Server.RateLimitBurst = v
		}
	}
	if required := os.Getenv("DOCGUARD_AUTH_REQUIRED"); required == TRUE {
		cfg.Auth.Required = true
	}
	if secret := os.Getenv("DOCGUARD_AUTH_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		cfg.SentryDSN = dsn
	}
}

func loadDatabaseConfig(cfg *config.Config) {
	if enabled := os.Getenv("DOCGUARD_DB_ENABLED"); enabled == TRUE {
		cfg.Database.Enabled = true
	}
	if driver := os.Getenv("DOCGUARD_DB_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if path := os.Getenv("DOCGUARD_DB_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if host := os.Getenv("DOCGUARD_DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("DOCGUARD_DB_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = v
		}
	}
	if name := os.Getenv("DOCGUARD_DB_NAME"); name != "" {
		cfg.Database.Database = name
	}
	if user := os.Getenv("DOCGUARD_DB_USER"); user != "" {
		cfg.Database.Username = user
	}
	if password := os.Getenv("DOCGUARD_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if sslMode := os.Getenv("DOCGUARD_DB_SSLMODE"); sslMode != "" {
		cfg.Database.SSLMode = sslMode
	}
}

func loadDetectorConfig(cfg *config.Config) {
	if dir := os.Getenv("DOCGUARD_MODEL_DIR"); dir != "" {
		cfg.Detector.ModelDirectory = dir
	}
	if path := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); path != "" {
		cfg.Detector.SharedLibraryPath = path
	}
	if chunk := os.Getenv("DOCGUARD_CHUNK_RUNES"); chunk != "" {
		if v, err := strconv.Atoi(chunk); err == nil {
			cfg.Detector.ChunkRunes = v
		}
	}
	if include := os.Getenv("DOCGUARD_INCLUDE_QUASI"); include == TRUE {
		cfg.Detector.IncludeQuasiWithoutRisk = true
	}
	if enabled := os.Getenv("DOCGUARD_FACESCAN_ENABLED"); enabled == "false" {
		cfg.FaceScan.Enabled = false
	}
	if conf := os.Getenv("DOCGUARD_FACESCAN_MIN_CONFIDENCE"); conf != "" {
		if v, err := strconv.ParseFloat(conf, 64); err == nil {
			cfg.FaceScan.MinConfidence = v
		}
	}
	if workers := os.Getenv("DOCGUARD_FACESCAN_WORKERS"); workers != "" {
		if v, err := strconv.Atoi(workers); err == nil {
			cfg.FaceScan.Workers = v
		}
	}
}

func loadLoggingConfig(cfg *config.Config) {
	if v := os.Getenv("DOCGUARD_LOG_DETECTIONS"); v == "false" {
		cfg.Logging.LogDetections = false
	}
	if v := os.Getenv("DOCGUARD_LOG_VERBOSE"); v == TRUE {
		cfg.Logging.LogVerbose = true
	}
	if v := os.Getenv("DOCGUARD_DEBUG"); v == TRUE {
		cfg.Logging.DebugMode = true
	}
}
