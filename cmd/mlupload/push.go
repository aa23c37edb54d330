package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Gammanik/model-uploader/internal/chunkplan"
	"github.com/Gammanik/model-uploader/internal/hasher"
	"github.com/Gammanik/model-uploader/internal/storage"
	"github.com/Gammanik/model-uploader/internal/upload"
)

var (
	pushMeta    storage.ModelMeta
	pushConfig  storage.ModelConfig
	pushModelID string
)

func init() {
	f := pushCmd.Flags()
	f.StringVar(&pushMeta.Name, "name", "", "model name (defaults to the file name)")
	f.StringVar(&pushMeta.Version, "model-version", "", "model version")
	f.StringVar(&pushMeta.Description, "description", "", "model description")
	f.StringVar(&pushMeta.ModelFormat, "format", "TORCH_SCRIPT", "model format: TORCH_SCRIPT or ONNX")
	f.StringVar(&pushMeta.ModelGroupID, "group", "", "model group id")
	f.StringVar(&pushMeta.FunctionName, "function", "", "function name, e.g. TEXT_EMBEDDING")
	f.StringVar(&pushConfig.ModelType, "model-type", "", "model type, e.g. bert")
	f.IntVar(&pushConfig.EmbeddingDimension, "embedding-dimension", 0, "embedding dimension")
	f.StringVar(&pushConfig.FrameworkType, "framework", "", "framework type, e.g. sentence_transformers")
	f.StringVar(&pushModelID, "model-id", "", "upload into an already registered model")
	rootCmd.AddCommand(pushCmd)
}

var pushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Hash a model file, register it and upload it in chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		path := args[0]
		out := cmd.OutOrStdout()

		src, closeFn, err := hasher.OpenFile(path)
		if err != nil {
			return err
		}
		defer closeFn()

		digest, err := hasher.New(cfg.HashWindow).Hash(ctx, src)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "digest %s\n", digest)

		backend, err := newBackend(ctx)
		if err != nil {
			return err
		}

		modelID := pushModelID
		if modelID == "" {
			modelID, err = backend.RegisterModelMeta(ctx, buildModelMeta(path, digest, src.Size()))
			if err != nil {
				return fmt.Errorf("failed to register model: %w", err)
			}
			fmt.Fprintf(out, "registered model %s\n", modelID)
		}

		registry := upload.NewRegistry()
		job := upload.NewJob(modelID, src.Size(), cfg.ChunkSize)
		progress := newProgressPrinter(out)

		handle := upload.NewOrchestrator(registry).Start(ctx, job, src, backend, upload.Callbacks{
			OnUpdate: progress.update,
		})

		select {
		case <-handle.Done():
		case <-ctx.Done():
			if !registry.IsEmpty() {
				log.Warnf("Interrupted with an upload in progress, aborting %v", registry.Active())
			}
		}

		err = handle.Wait()
		progress.finish()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "uploaded %s in %d chunks\n", modelID, len(job.Chunks))
		return nil
	},
}

// buildModelMeta дополняет метаданные из флагов сведениями о файле
func buildModelMeta(path, digest string, size int64) storage.ModelMeta {
	meta := pushMeta
	if meta.Name == "" {
		meta.Name = filepath.Base(path)
	}
	if pushConfig != (storage.ModelConfig{}) {
		cfgCopy := pushConfig
		meta.ModelConfig = &cfgCopy
	}
	meta.ContentHash = digest
	meta.ContentSize = size
	meta.TotalChunks = chunkplan.Count(size, chunkplan.EffectiveChunkSize(cfg.ChunkSize, chunkplan.MinChunkSize))
	return meta
}

// progressPrinter выводит прогресс одной строкой в терминал или построчно в файл
type progressPrinter struct {
	out   io.Writer
	inTTY bool
	dirty bool
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	p := &progressPrinter{out: out}
	if f, ok := out.(*os.File); ok {
		p.inTTY = isatty.IsTerminal(f.Fd())
	}
	return p
}

func (p *progressPrinter) update(pr upload.Progress) {
	if p.inTTY {
		fmt.Fprintf(p.out, "\rchunk %d/%d (%d%%)", pr.Current, pr.Total, pr.Current*100/pr.Total)
		p.dirty = true
		return
	}
	fmt.Fprintf(p.out, "chunk %d/%d\n", pr.Current, pr.Total)
}

func (p *progressPrinter) finish() {
	if p.dirty {
		fmt.Fprintln(p.out)
		p.dirty = false
	}
}
