package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"assetvault/internal/api"
	"assetvault/internal/observability/logging"
	"assetvault/internal/observability/metrics"
	"assetvault/internal/server"
	"assetvault/internal/storage"
)

func main() {
	addrFlag := flag.String("addr", "", "listen address, e.g. :8080")
	dataFlag := flag.String("data", "", "path to the JSON datastore directory")
	storageDriverFlag := flag.String("storage-driver", "", "storage driver: cosmos, postgres, or json")
	blobDriverFlag := flag.String("blob-driver", "", "blob driver: azure, s3, or none")
	logLevelFlag := flag.String("log-level", "", "log level: debug, info, warn, or error")
	logFormatFlag := flag.String("log-format", "", "log format: json or text")
	tlsCertFlag := flag.String("tls-cert", "", "path to TLS certificate")
	tlsKeyFlag := flag.String("tls-key", "", "path to TLS private key")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevelFlag, os.Getenv("ASSETVAULT_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormatFlag, os.Getenv("ASSETVAULT_LOG_FORMAT")),
	})

	addr := firstNonEmpty(*addrFlag, os.Getenv("ASSETVAULT_ADDR"), ":8080")

	store, closeStore, err := buildStore(firstNonEmpty(*storageDriverFlag, os.Getenv("ASSETVAULT_STORAGE_DRIVER")), *dataFlag, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	blobs := buildBlobStore(firstNonEmpty(*blobDriverFlag, os.Getenv("ASSETVAULT_BLOB_DRIVER")), logger)

	handler := api.NewHandler(store, blobs)
	handler.Logger = logging.WithComponent(logger, "api")

	rateLimit, closeLimiter, err := buildRateLimit(logger)
	if err != nil {
		logger.Error("failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}
	defer closeLimiter()

	srv, err := server.New(handler, server.Config{
		Addr: addr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCertFlag, os.Getenv("ASSETVAULT_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKeyFlag, os.Getenv("ASSETVAULT_TLS_KEY")),
		},
		RateLimit: rateLimit,
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(os.Getenv("ASSETVAULT_CORS_ORIGINS")),
		},
		Logger:  logging.WithComponent(logger, "http"),
		Metrics: metrics.Default(),
	})
	if err != nil {
		logger.Error("failed to configure server", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		shutdownTimeout := resolveDuration("ASSETVAULT_SHUTDOWN_TIMEOUT", 15*time.Second, logger)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			os.Exit(1)
		}
	}
}

// buildStore resolves the storage driver. An explicit driver name wins;
// otherwise Cosmos credentials select cosmos, a Postgres DSN selects
// postgres, and the JSON file store is the fallback for local development.
func buildStore(driver, dataFlag string, logger *slog.Logger) (storage.Repository, func(), error) {
	noop := func() {}

	cosmosEndpoint := strings.TrimSpace(os.Getenv("COSMOS_ENDPOINT"))
	postgresDSN := firstNonEmpty(os.Getenv("ASSETVAULT_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))

	if driver == "" {
		switch {
		case cosmosEndpoint != "":
			driver = "cosmos"
		case postgresDSN != "":
			driver = "postgres"
		default:
			driver = "json"
		}
	}

	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "cosmos":
		repo := storage.NewCosmosRepository(storage.CosmosConfig{
			Endpoint:  cosmosEndpoint,
			Key:       os.Getenv("COSMOS_KEY"),
			Database:  os.Getenv("COSMOS_DATABASE"),
			Container: os.Getenv("COSMOS_CONTAINER"),
		})
		logger.Info("using cosmos storage driver", "endpoint", cosmosEndpoint)
		return repo, noop, nil
	case "postgres":
		repo, err := storage.NewPostgresRepository(storage.PostgresConfig{
			DSN:             postgresDSN,
			MaxConnections:  int32(resolveInt("ASSETVAULT_POSTGRES_MAX_CONNS", 8, logger)),
			MinConnections:  int32(resolveInt("ASSETVAULT_POSTGRES_MIN_CONNS", 0, logger)),
			MaxConnLifetime: resolveDuration("ASSETVAULT_POSTGRES_CONN_LIFETIME", time.Hour, logger),
			MaxConnIdleTime: resolveDuration("ASSETVAULT_POSTGRES_CONN_IDLE", 30*time.Minute, logger),
			AcquireTimeout:  resolveDuration("ASSETVAULT_POSTGRES_ACQUIRE_TIMEOUT", 5*time.Second, logger),
			ApplicationName: "assetvault",
		})
		if err != nil {
			return nil, noop, fmt.Errorf("postgres driver: %w", err)
		}
		logger.Info("using postgres storage driver")
		closeRepo := func() {
			type closer interface {
				Close(ctx context.Context) error
			}
			if c, ok := repo.(closer); ok {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := c.Close(ctx); err != nil {
					logger.Error("failed to close postgres pool", "error", err)
				}
			}
		}
		return repo, closeRepo, nil
	case "json":
		dataDir := firstNonEmpty(dataFlag, os.Getenv("ASSETVAULT_DATA"), "data")
		store, err := storage.NewStorage(filepath.Join(dataDir, "assets.json"))
		if err != nil {
			return nil, noop, fmt.Errorf("json driver: %w", err)
		}
		logger.Info("using json storage driver", "path", dataDir)
		return store, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// buildBlobStore resolves the blob driver. A connection string selects the
// Azure driver and an object endpoint plus bucket selects S3; with neither,
// the server still starts and upload or delete calls fail per request.
func buildBlobStore(driver string, logger *slog.Logger) storage.BlobStore {
	connectionString := strings.TrimSpace(os.Getenv("BLOB_CONNECTION_STRING"))
	objectEndpoint := strings.TrimSpace(os.Getenv("ASSETVAULT_OBJECT_ENDPOINT"))
	objectBucket := strings.TrimSpace(os.Getenv("ASSETVAULT_OBJECT_BUCKET"))

	if driver == "" {
		switch {
		case connectionString != "":
			driver = "azure"
		case objectEndpoint != "" && objectBucket != "":
			driver = "s3"
		default:
			driver = "none"
		}
	}

	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "azure":
		logger.Info("using azure blob driver")
		return storage.NewAzureBlobStore(storage.AzureBlobConfig{
			ConnectionString: connectionString,
			Container:        firstNonEmpty(os.Getenv("BLOB_CONTAINER"), "uploads"),
		})
	case "s3":
		logger.Info("using s3 blob driver", "endpoint", objectEndpoint, "bucket", objectBucket)
		return storage.NewObjectStorage(storage.ObjectStorageConfig{
			Endpoint:       objectEndpoint,
			Region:         firstNonEmpty(os.Getenv("ASSETVAULT_OBJECT_REGION"), "us-east-1"),
			AccessKey:      os.Getenv("ASSETVAULT_OBJECT_ACCESS_KEY"),
			SecretKey:      os.Getenv("ASSETVAULT_OBJECT_SECRET_KEY"),
			Bucket:         objectBucket,
			UseSSL:         resolveBool("ASSETVAULT_OBJECT_USE_SSL", true, logger),
			Prefix:         os.Getenv("ASSETVAULT_OBJECT_PREFIX"),
			PublicEndpoint: os.Getenv("ASSETVAULT_OBJECT_PUBLIC_ENDPOINT"),
		})
	default:
		logger.Warn("object storage is not configured; uploads will be rejected")
		return storage.NewUnconfiguredBlobStore()
	}
}

func buildRateLimit(logger *slog.Logger) (server.RateLimitConfig, func(), error) {
	cfg := server.RateLimitConfig{
		GlobalRPS:    float64(resolveInt("ASSETVAULT_GLOBAL_RPS", 0, logger)),
		GlobalBurst:  resolveInt("ASSETVAULT_GLOBAL_BURST", 0, logger),
		UploadLimit:  resolveInt("ASSETVAULT_UPLOAD_LIMIT", 0, logger),
		UploadWindow: resolveDuration("ASSETVAULT_UPLOAD_WINDOW", time.Minute, logger),
	}
	noop := func() {}

	redisAddr := strings.TrimSpace(os.Getenv("ASSETVAULT_REDIS_ADDR"))
	if redisAddr == "" || cfg.UploadLimit <= 0 {
		return cfg, noop, nil
	}

	store, err := server.NewRedisTokenStore(server.RedisStoreConfig{
		Addr:     redisAddr,
		Username: os.Getenv("ASSETVAULT_REDIS_USERNAME"),
		Password: os.Getenv("ASSETVAULT_REDIS_PASSWORD"),
		DB:       resolveInt("ASSETVAULT_REDIS_DB", 0, logger),
		Timeout:  resolveDuration("ASSETVAULT_REDIS_TIMEOUT", 5*time.Second, logger),
	})
	if err != nil {
		return cfg, noop, fmt.Errorf("redis token store: %w", err)
	}
	logger.Info("upload rate limiting backed by redis", "addr", redisAddr)
	cfg.UploadStore = store
	return cfg, func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func resolveInt(envKey string, fallback int, logger *slog.Logger) int {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		logger.Error("invalid integer in environment, using fallback", "key", envKey, "value", raw, "fallback", fallback)
		return fallback
	}
	return parsed
}

func resolveDuration(envKey string, fallback time.Duration, logger *slog.Logger) time.Duration {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		logger.Error("invalid duration in environment, using fallback", "key", envKey, "value", raw, "fallback", fallback.String())
		return fallback
	}
	return parsed
}

func resolveBool(envKey string, fallback bool, logger *slog.Logger) bool {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Error("invalid boolean in environment, using fallback", "key", envKey, "value", raw, "fallback", fallback)
		return fallback
	}
	return parsed
}
