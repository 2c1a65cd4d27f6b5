package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/bootstrap"
	"github.com/cloo-solutions/kbrag/internal/config"
	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/service"
)

// withApp loads config, opens the local index and runs fn.
func withApp(cmd *cobra.Command, opts appOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(cmd.Context(), a)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}

func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a bulk document into the local index",
		Long:  "Ingest a JSON or YAML document keyed by class (erros, studio, xwork, integracao) into the local index",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	batches, err := bootstrap.LoadFile(args[0])
	if err != nil {
		return err
	}

	return withApp(cmd, appOptions{needProvider: true}, func(ctx context.Context, a *app) error {
		result, err := a.knowledge.IngestByClass(ctx, batches)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", args[0], err)
		}
		if outputFormat(cmd) == "json" {
			return printJSON(result)
		}
		fmt.Printf("Ingested %d entries as %d records (index now has %d rows)\n", result.Entries, result.Records, result.Rows)
		return nil
	})
}

func SearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the local index",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().IntP("k", "k", service.DefaultResultCount, "Number of results")
	cmd.Flags().StringP("classe", "c", "", "Restrict to one class")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	k, _ := cmd.Flags().GetInt("k")
	input := service.SearchInput{Query: strings.Join(args, " "), K: k}
	if raw, _ := cmd.Flags().GetString("classe"); raw != "" {
		class, err := domain.ParseClass(raw)
		if err != nil {
			return err
		}
		input.Class = &class
	}

	return withApp(cmd, appOptions{needProvider: true}, func(ctx context.Context, a *app) error {
		results, err := a.knowledge.Search(ctx, input)
		if err != nil {
			return err
		}
		if outputFormat(cmd) == "json" {
			return printJSON(results)
		}
		if len(results) == 0 {
			fmt.Println("No results")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%d. [%.4f] %s (%s)\n", i+1, r.Score, r.Record.Title, r.Record.Class)
		}
		return nil
	})
}

func ListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <classe>",
		Short: "List titles of one class",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	class, err := domain.ParseClass(args[0])
	if err != nil {
		return err
	}

	return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
		titles, err := a.knowledge.ListTitles(ctx, class)
		if err != nil {
			return err
		}
		if outputFormat(cmd) == "json" {
			return printJSON(map[string]interface{}{"classe": class, "titulos": titles})
		}
		if len(titles) == 0 {
			fmt.Println(service.EmptyListMessage(class))
			return nil
		}
		for _, t := range titles {
			fmt.Println("- " + t)
		}
		return nil
	})
}

func StatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
				stats := a.knowledge.Stats()
				if outputFormat(cmd) == "json" {
					return printJSON(stats)
				}
				fmt.Printf("Data dir:   %s\n", stats.DataDir)
				fmt.Printf("Rows:       %d\n", stats.Rows)
				fmt.Printf("Dimension:  %d\n", stats.Dim)
				fmt.Printf("Log rows:   %d\n", stats.LogRows)
				if stats.LogRows != stats.Rows {
					fmt.Println("Warning: corpus log and snapshot disagree, run 'kbragd rebuild'")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func ClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the local index",
		Long:  "Delete the corpus log and both snapshot files from the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes && !confirm(fmt.Sprintf("Delete the index in %s?", dataDirHint(cmd))) {
				fmt.Println("Aborted")
				return nil
			}
			return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
				if err := a.knowledge.Clear(ctx); err != nil {
					return err
				}
				fmt.Println("Index cleared")
				return nil
			})
		},
	}

	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	return cmd
}

func RebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed the corpus log and rewrite the snapshot",
		Long:  "Recover a corrupt or stale snapshot by re-embedding every record of the append-only corpus log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{needProvider: true, recoverCorrupt: true}, func(ctx context.Context, a *app) error {
				rows, err := a.knowledge.Rebuild(ctx)
				if err != nil {
					return err
				}
				a.logger.Info("index rebuilt", zap.Int("rows", rows))
				fmt.Printf("Rebuilt index with %d rows\n", rows)
				return nil
			})
		},
	}
}

func dataDirHint(cmd *cobra.Command) string {
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		return dir
	}
	if dir := os.Getenv("KBRAG_DATA_DIR"); dir != "" {
		return dir
	}
	return "the configured data directory"
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
