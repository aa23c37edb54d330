package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/Gammanik/model-uploader/internal/config"
	"github.com/Gammanik/model-uploader/internal/logger"
	"github.com/Gammanik/model-uploader/internal/storage"
)

var (
	cfg    = config.Default()
	envErr error
	log    = logger.GetLogger("mlupload")
)

var rootCmd = &cobra.Command{
	Use:   "mlupload",
	Short: "Chunked uploader for ML model artifacts",
	Long: `mlupload hashes model files and uploads them to the search-engine ML plugin
in fixed-size chunks. Settings come from MLUP_* environment variables and flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envErr != nil {
			return envErr
		}
		lvl, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLogLevel(lvl)
		return cfg.Validate()
	},
}

func init() {
	// Флаги получают значения из окружения как значения по умолчанию
	envErr = cfg.LoadEnv(os.Getenv)

	f := rootCmd.PersistentFlags()
	f.StringVar(&cfg.Transport, "transport", cfg.Transport, "chunk transport: http or s3")
	f.StringVar(&cfg.Backend.BaseURL, "backend", cfg.Backend.BaseURL, "search-engine base URL")
	f.StringVar(&cfg.Backend.Username, "user", cfg.Backend.Username, "backend basic-auth user")
	f.StringVar(&cfg.Backend.Password, "password", cfg.Backend.Password, "backend basic-auth password")
	f.StringVar(&cfg.S3.Bucket, "s3-bucket", cfg.S3.Bucket, "staging bucket for the s3 transport")
	f.StringVar(&cfg.S3.Prefix, "s3-prefix", cfg.S3.Prefix, "object key prefix for the s3 transport")
	f.StringVar(&cfg.S3.Region, "s3-region", cfg.S3.Region, "s3 region")
	f.StringVar(&cfg.S3.Endpoint, "s3-endpoint", cfg.S3.Endpoint, "endpoint of an S3-compatible store")
	f.Int64Var(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "requested chunk size in bytes (floor 10000000)")
	f.Int64Var(&cfg.HashWindow, "hash-window", cfg.HashWindow, "read window for hashing in bytes")
	f.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "timeout of a single backend request")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
}

// Execute запускает корневую команду
func Execute() {
	cobra.CheckErr(rootCmd.ExecuteContext(context.Background()))
}

// newBackend создает транспорт чанков по настройкам
func newBackend(ctx context.Context) (storage.Backend, error) {
	if cfg.Transport == config.TransportS3 {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Transport(client, cfg.S3.Bucket, cfg.S3.Prefix), nil
	}

	backend := cfg.Backend
	backend.Timeout = cfg.RequestTimeout
	return storage.New(backend), nil
}
