package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"guestmail/internal/config"
	"guestmail/internal/knowledge"
	"guestmail/internal/provider"
)

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or query the knowledge index",
	}
	cmd.AddCommand(indexBuildCmd())
	cmd.AddCommand(indexQueryCmd())
	return cmd
}

func indexBuildCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "build <file-or-dir>...",
		Short: "Embed knowledge documents and write the index",
		Long: `Reads YAML (documents: [{name, content}]), Markdown and text files,
splits them into overlapping chunks, embeds every chunk and replaces the
index file contents.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()
			if cfg.Providers.OpenAI.APIKey == "" {
				return fmt.Errorf("%w: OPENAI_API_KEY", config.ErrMissingCredential)
			}
			if output == "" {
				output = cfg.Knowledge.IndexPath
			}

			docs, err := knowledge.ReadDocuments(args)
			if err != nil {
				return fmt.Errorf("read documents: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			embedder := provider.NewFactory(cfg, logger).Embedder()
			b := knowledge.NewBuilder(knowledge.BuilderConfig{
				Embedder:  embedder,
				Model:     embedder.Model(),
				ChunkSize: cfg.Knowledge.ChunkSize,
				Overlap:   cfg.Knowledge.ChunkOverlap,
				BatchSize: cfg.Knowledge.BatchSize,
				Logger:    logger,
			})
			stats, err := b.Build(ctx, output, docs)
			if err != nil {
				return err
			}
			fmt.Printf("Index written: %s\n", output)
			fmt.Printf("  documents:  %d\n", stats.Documents)
			fmt.Printf("  passages:   %d\n", stats.Passages)
			fmt.Printf("  dimensions: %d\n", stats.Dimensions)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "index file (default: knowledge.indexPath)")
	return cmd
}

func indexQueryCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Show the passages retrieved for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()
			if k <= 0 {
				k = cfg.Knowledge.TopK
			}

			ctx := context.Background()
			ix, err := knowledge.Load(ctx, cfg.Knowledge.IndexPath, provider.NewFactory(cfg, logger).Embedder(), logger)
			if errors.Is(err, knowledge.ErrIndexUnavailable) {
				return fmt.Errorf("%w (run 'guestmail index build' first)", err)
			}
			if err != nil {
				return err
			}

			snippets, err := ix.Retrieve(ctx, strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			score := color.New(color.FgCyan)
			for i, s := range snippets {
				fmt.Printf("%d. %s %s#%d\n", i+1, score.Sprintf("%.3f", s.Score), s.Source, s.ChunkIndex)
				fmt.Printf("   %s\n\n", strings.ReplaceAll(s.Content, "\n", "\n   "))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 0, "number of passages (default: knowledge.topK)")
	return cmd
}
