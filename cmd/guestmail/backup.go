package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"guestmail/internal/config"
)

// backupEntry maps a fixed archive name to a file on disk.
type backupEntry struct {
	Name string
	Path string
}

// backupEntries lists the files worth keeping: the config, the reply ledger
// (with its WAL), the knowledge index and the listings catalog.
func backupEntries(cfgPath string, cfg *config.Config) []backupEntry {
	return []backupEntry{
		{"config.json", cfgPath},
		{"ledger.db", cfg.Ledger.DBPath},
		{"ledger.db-wal", cfg.Ledger.DBPath + "-wal"},
		{"ledger.db-shm", cfg.Ledger.DBPath + "-shm"},
		{"index.db", cfg.Knowledge.IndexPath},
		{"listings.json", cfg.Listings.CatalogPath},
	}
}

func backupCmd() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config, ledger, knowledge index and catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()

			if outputPath == "" {
				dir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(dir, "guestmail-"+time.Now().Format("20060102-150405")+".tar.gz")
			}

			written, err := writeArchive(outputPath, backupEntries(resolveConfigPath(), cfg))
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			if len(written) == 0 {
				os.Remove(outputPath)
				return errors.New("nothing to back up")
			}
			fmt.Printf("Backup created: %s\n", outputPath)
			for _, name := range written {
				fmt.Printf("  - %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "archive path (default: ~/.guestmail/backups/guestmail-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <archive.tar.gz>",
		Short: "Restore files from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()

			entries := backupEntries(resolveConfigPath(), cfg)
			if !force {
				for _, e := range entries {
					if _, err := os.Stat(e.Path); err == nil {
						return fmt.Errorf("%s exists, stop guestmail and use --force to overwrite", e.Path)
					}
				}
			}

			restored, err := extractArchive(args[0], entries)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("Restored from %s:\n", args[0])
			for _, p := range restored {
				fmt.Printf("  - %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

// writeArchive stores every existing entry under its archive name and
// returns the names written. Missing files are skipped.
func writeArchive(outputPath string, entries []backupEntry) ([]string, error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	var written []string
	for _, e := range entries {
		if e.Path == "" {
			continue
		}
		ok, err := addToTar(tw, e)
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", e.Path, err)
		}
		if ok {
			written = append(written, e.Name)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return written, out.Close()
}

func addToTar(tw *tar.Writer, e backupEntry) (bool, error) {
	f, err := os.Open(e.Path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return false, err
	}
	hdr.Name = e.Name
	if err := tw.WriteHeader(hdr); err != nil {
		return false, err
	}
	_, err = io.Copy(tw, f)
	return err == nil, err
}

// extractArchive writes each known archive member to its configured path.
// Unknown members are ignored.
func extractArchive(archivePath string, entries []backupEntry) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	targets := make(map[string]string, len(entries))
	for _, e := range entries {
		targets[e.Name] = e.Path
	}

	var restored []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		target, ok := targets[hdr.Name]
		if !ok || target == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, fmt.Errorf("extract %s: %w", target, err)
		}
		if err := out.Close(); err != nil {
			return nil, err
		}
		restored = append(restored, target)
	}
	return restored, nil
}
