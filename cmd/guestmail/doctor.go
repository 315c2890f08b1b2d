package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"guestmail/internal/config"
	"guestmail/internal/knowledge"
	"guestmail/internal/ledger"
	"guestmail/internal/listing"
	"guestmail/internal/provider"
)

// doctor tallies check results.
type doctor struct {
	passed, warned, failed int
}

func (d *doctor) pass(check, detail string) {
	fmt.Printf("  [%s] %-16s %s\n", color.GreenString("PASS"), check, detail)
	d.passed++
}

func (d *doctor) fail(check, detail string) {
	fmt.Printf("  [%s] %-16s %s\n", color.RedString("FAIL"), check, detail)
	d.failed++
}

func (d *doctor) warn(check, detail string) {
	fmt.Printf("  [%s] %-16s %s\n", color.YellowString("WARN"), check, detail)
	d.warned++
}

func (d *doctor) check(name string, err error, ok string) {
	if err != nil {
		d.fail(name, err.Error())
		return
	}
	d.pass(name, ok)
}

func doctorCmd() *cobra.Command {
	var network bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials, index, catalog and ledger",
		Long: `Verifies everything 'guestmail run' needs before it will start.
With --network it also logs in to IMAP and SMTP and pings the generation provider.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("guestmail doctor v%s\n\n", version)
			d := &doctor{}

			if _, err := os.Stat(cfgPath); err != nil {
				d.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				d.pass("Config file", cfgPath)
			}

			cfg, closeLog, err := loadConfig()
			if err != nil {
				d.fail("Config", err.Error())
				return d.summary()
			}
			defer closeLog()
			d.pass("Config", "valid")

			d.check("Credentials", config.RequireCredentials(cfg), "present")

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			factory := provider.NewFactory(cfg, logger)
			ix, err := knowledge.Load(ctx, cfg.Knowledge.IndexPath, factory.Embedder(), logger)
			if err != nil {
				d.fail("Knowledge index", err.Error())
			} else {
				d.pass("Knowledge index", fmt.Sprintf("%d passages, %d dims, model %s", ix.Len(), ix.Dimensions(), ix.Model()))
			}

			if catalog, err := listing.LoadCatalog(cfg.Listings.CatalogPath); err != nil {
				d.fail("Listings catalog", err.Error())
			} else {
				m := listing.NewMatcher(listing.MatcherConfig{Catalog: catalog, MaxMatches: cfg.Listings.MaxMatches})
				n := len(m.Find(cfg.Listings.City, cfg.Listings.MinGuests))
				detail := fmt.Sprintf("%d listings, %d match %s/%d+", len(catalog), n, cfg.Listings.City, cfg.Listings.MinGuests)
				if n == 0 {
					d.warn("Listings catalog", detail)
				} else {
					d.pass("Listings catalog", detail)
				}
			}

			if _, err := newFilter(cfg); err != nil {
				d.fail("Sender filter", err.Error())
			} else {
				d.pass("Sender filter", fmt.Sprintf("%d ignore, %d allow patterns", len(cfg.Filter.IgnoreSenders), len(cfg.Filter.AllowSenders)))
			}

			d.check("Ledger", checkLedger(cfg.Ledger.DBPath), cfg.Ledger.DBPath)

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					d.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					d.pass("Log file", cfg.General.LogFile)
				}
			}
			if cfg.Metrics.TextfilePath != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Metrics.TextfilePath), 0o755); err != nil {
					d.warn("Metrics file", err.Error())
				} else {
					d.pass("Metrics file", cfg.Metrics.TextfilePath)
				}
			}

			if network {
				if ix != nil {
					d.check("Embeddings", ix.Verify(ctx), fmt.Sprintf("%d dims", ix.Dimensions()))
				}
				d.check("IMAP", newMailbox(cfg.Mail).Check(ctx), cfg.Mail.IMAPAddr)
				d.check("SMTP", newSender(cfg.Mail).Check(ctx), cfg.Mail.SMTPAddr)
				if gen, err := factory.Generator(); err != nil {
					d.fail("Provider", err.Error())
				} else {
					d.check("Provider", gen.Healthy(ctx), gen.Name())
				}
			}

			return d.summary()
		},
	}
	cmd.Flags().BoolVar(&network, "network", false, "also test IMAP, SMTP and provider connectivity")
	return cmd
}

func (d *doctor) summary() error {
	fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
	if d.failed > 0 {
		return fmt.Errorf("%d check(s) failed", d.failed)
	}
	if d.warned > 0 {
		fmt.Println("guestmail should run, but consider fixing the warnings.")
	} else {
		fmt.Println("All checks passed.")
	}
	return nil
}

// checkLedger opens (and migrates) the ledger and reads its totals.
func checkLedger(path string) error {
	l, err := ledger.Open(path, logger)
	if err != nil {
		return err
	}
	defer l.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := l.Stats(ctx); err != nil {
		return errors.Join(errors.New("ledger not readable"), err)
	}
	return nil
}
