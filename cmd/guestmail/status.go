package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"guestmail/internal/ledger"
)

func statusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show reply totals and recent poll cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()

			if _, err := os.Stat(cfg.Ledger.DBPath); errors.Is(err, fs.ErrNotExist) {
				fmt.Printf("No ledger at %s yet. Run 'guestmail run' first.\n", cfg.Ledger.DBPath)
				return nil
			}
			l, err := ledger.Open(cfg.Ledger.DBPath, logger)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx := context.Background()
			s, err := l.Stats(ctx)
			if err != nil {
				return err
			}
			cycles, err := l.RecentCycles(ctx, limit)
			if err != nil {
				return err
			}

			bold := color.New(color.Bold)
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)
			red := color.New(color.FgRed)

			bold.Println("guestmail status")
			fmt.Printf("  ledger:    %s\n", cfg.Ledger.DBPath)
			fmt.Printf("  replied:   %s\n", green.Sprint(s.Replied))
			fmt.Printf("  failing:   %s\n", countColor(s.Failing, yellow).Sprint(s.Failing))
			fmt.Printf("  abandoned: %s\n", countColor(s.Abandoned, red).Sprint(s.Abandoned))
			fmt.Printf("  cycles:    %d\n", s.Cycles)

			if len(cycles) == 0 {
				return nil
			}
			fmt.Println()
			bold.Println("Recent cycles")
			for _, c := range cycles {
				state := green.Sprint("ok   ")
				if c.Err != "" {
					state = red.Sprint("error")
				}
				fmt.Printf("  %s  %s  %6s  fetched %d  replied %d  failed %d  skipped %d  abandoned %d\n",
					c.StartedAt.Local().Format(time.DateTime), state,
					c.FinishedAt.Sub(c.StartedAt).Round(time.Millisecond),
					c.Fetched, c.Replied, c.Failed, c.Skipped, c.Abandoned)
				if c.Err != "" {
					fmt.Printf("      %s\n", c.Err)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of recent cycles to show")
	return cmd
}

func countColor(n int, nonzero *color.Color) *color.Color {
	if n == 0 {
		return color.New(color.Reset)
	}
	return nonzero
}
