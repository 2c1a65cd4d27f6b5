package admin

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/config"
	"github.com/cloo-solutions/kbrag/internal/storage"
)

func RestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Download the mirrored index into an empty data directory",
		Long:  "Download the last snapshot uploaded by 'kbragd serve' from object storage. The data directory must not already contain an index.",
		Args:  cobra.NoArgs,
		RunE:  runRestore,
	}
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if !cfg.HasS3() {
		return errors.New("object storage not configured: set KBRAG_S3_ENDPOINT, KBRAG_S3_ACCESS_KEY_ID and KBRAG_S3_SECRET_ACCESS_KEY")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	mirror, err := newMirror(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	manifest, err := mirror.Restore(cmd.Context(), cfg.DataDir)
	if errors.Is(err, storage.ErrDataDirNotEmpty) {
		return fmt.Errorf("%s already holds an index; run 'kbragd clear' first", cfg.DataDir)
	}
	if err != nil {
		return fmt.Errorf("failed to restore index: %w", err)
	}

	logger.Info("index restored", zap.Uint64("generation", manifest.Generation))
	fmt.Printf("Restored %d files (generation %d) into %s\n", len(manifest.Files), manifest.Generation, cfg.DataDir)
	return nil
}
