package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/Gammanik/model-uploader/internal/api"
	"github.com/Gammanik/model-uploader/internal/hasher"
	"github.com/Gammanik/model-uploader/internal/metastore"
	"github.com/Gammanik/model-uploader/internal/upload"
)

func init() {
	f := serveCmd.Flags()
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP address to listen on")
	f.StringVar(&cfg.MetaDBPath, "meta", cfg.MetaDBPath, "path to the transfer journal")
	f.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "CORS origins of the admin UI")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(cfg.MetaDBPath), 0755); err != nil {
		return err
	}

	// Инициализируем журнал передач
	store, err := metastore.NewBoltStore(cfg.MetaDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	backend, err := newBackend(ctx)
	if err != nil {
		return err
	}

	registry := upload.NewRegistry()
	handler := api.NewUploadHandler(store, backend, upload.NewOrchestrator(registry), hasher.New(cfg.HashWindow), cfg.ChunkSize)

	// Интерфейс администратора обращается к API из браузера
	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	})

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      c.Handler(handler.Router()),
		ReadTimeout:  300 * time.Second,
		WriteTimeout: 300 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("REST server starting on %s (%s transport)", cfg.Listen, cfg.Transport)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if !registry.IsEmpty() {
		log.Warnf("Shutting down with %d active transfers, they will be aborted: %v", registry.Count(), registry.Active())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to stop HTTP server: %v", err)
	}
	return handler.Shutdown(shutdownCtx)
}
