package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"guestmail/internal/config"
	"guestmail/internal/listing"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "guestmail",
		Short:         "Guest inquiry autoresponder",
		Long:          "guestmail answers guest emails using a knowledge base, the listings catalog and a language model.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.guestmail/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(indexCmd())
	root.AddCommand(listingsCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(serviceCmd())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig reads .env, then the config file (defaults when absent), and
// rebuilds the logger from the result. The returned func closes the log file.
func loadConfig() (*config.Config, func(), error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadOrDefaults(resolveConfigPath())
	if err != nil {
		return nil, nil, err
	}
	closeLog, err := setupLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closeLog, nil
}

func setupLogger(g config.GeneralConfig) (func(), error) {
	level := slog.LevelInfo
	switch strings.ToLower(g.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if g.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(g.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}

	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closeFn, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Println("Next steps:")
			fmt.Println("  1. export EMAIL_ADDRESS, EMAIL_PASSWORD and OPENAI_API_KEY (or put them in .env)")
			fmt.Println("  2. guestmail index build <knowledge files...>")
			fmt.Println("  3. guestmail doctor")
			fmt.Println("  4. guestmail run")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"poll"},
		Short:   "Poll the mailbox and answer unread inquiries",
		Long: `Polls the mailbox on the configured schedule, replies to every unread
inquiry and marks answered messages. Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if once {
				c, err := a.poller.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("fetched %d, replied %d, failed %d, skipped %d, abandoned %d\n",
					c.Fetched, c.Replied, c.Failed, c.Skipped, c.Abandoned)
				return nil
			}
			return a.poller.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single poll cycle and exit")
	return cmd
}

func listingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listings",
		Short: "Inspect the listings catalog",
	}

	var city string
	var guests int
	match := &cobra.Command{
		Use:   "match",
		Short: "Show the listings that would be suggested for a city and party size",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()

			catalog, err := listing.LoadCatalog(cfg.Listings.CatalogPath)
			if err != nil {
				return err
			}
			m := listing.NewMatcher(listing.MatcherConfig{
				Catalog:         catalog,
				FallbackBaseURL: cfg.Listings.FallbackBaseURL,
				MaxMatches:      cfg.Listings.MaxMatches,
			})
			if !cmd.Flags().Changed("city") {
				city = cfg.Listings.City
			}
			if !cmd.Flags().Changed("guests") {
				guests = cfg.Listings.MinGuests
			}

			found := m.Find(city, guests)
			if len(found) == 0 {
				fmt.Printf("No listings in %s for %d+ guests (catalog has %d entries).\n", city, guests, m.Len())
				return nil
			}
			for _, s := range found {
				fmt.Println(s)
			}
			return nil
		},
	}
	match.Flags().StringVar(&city, "city", "", "city to match (default: listings.city)")
	match.Flags().IntVar(&guests, "guests", 0, "minimum guest capacity (default: listings.minGuests)")
	cmd.AddCommand(match)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List all config values with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()

			if flat, _ := cmd.Flags().GetBool("flat"); flat {
				paths := config.ListPaths(config.Sanitize(cfg))
				keys := make([]string, 0, len(paths))
				for k := range paths {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Printf("%s = %v\n", k, paths[k])
				}
				return nil
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	list.Flags().Bool("flat", false, "print one dotted path per line")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
