package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ragagent/internal/config"
)

// archiveManifest maps archive member names to the files they hold on this
// machine. Backup and restore share it, so an archive taken with one config
// restores into the paths of another.
func archiveManifest(cfg *config.Config, cfgPath string) map[string]string {
	m := map[string]string{
		"index.db":       filepath.Join(cfg.Knowledge.PersistDir, "index.db"),
		"call-traces.db": cfg.Traces.DBPath,
	}
	if cfg.Traces.DBPath != "" {
		m["call-traces.db-wal"] = cfg.Traces.DBPath + "-wal"
	}
	m["config"+filepath.Ext(cfgPath)] = cfgPath
	return m
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the persisted index, call traces and config",
		Long: `Writes a .tar.gz holding the persisted index, the call trace database and
the config file. Files that do not exist yet are left out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if outputPath == "" {
				outputPath = "ragagent-backup-" + time.Now().Format("20060102-150405") + ".tar.gz"
			}

			out, err := os.Create(outputPath)
			if err != nil {
				return err
			}
			written, werr := writeArchive(out, archiveManifest(cfg, cfgPath))
			if cerr := out.Close(); werr == nil {
				werr = cerr
			}
			if werr == nil && len(written) == 0 {
				werr = fmt.Errorf("nothing to back up (index: %s, traces: %s)", cfg.Knowledge.PersistDir, cfg.Traces.DBPath)
			}
			if werr != nil {
				os.Remove(outputPath)
				return fmt.Errorf("backup: %w", werr)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for _, m := range written {
				fmt.Printf("  - %s (%s)\n", m.name, humanize.IBytes(uint64(m.size)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "archive path (default: ragagent-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [archive]",
		Short: "Restore the index, call traces and config from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			manifest := archiveManifest(cfg, resolveConfigPath())

			if !force {
				for _, path := range manifest {
					if _, err := os.Stat(path); path != "" && err == nil {
						return fmt.Errorf("%s exists; rerun with --force to overwrite it", path)
					}
				}
			}

			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			restored, err := readArchive(in, manifest)
			if err != nil {
				return fmt.Errorf("restore %s: %w", args[0], err)
			}
			fmt.Printf("Restored from %s:\n", args[0])
			for _, path := range restored {
				fmt.Printf("  - %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

type archivedMember struct {
	name string
	size int64
}

// writeArchive streams every manifest file that exists into a gzipped tar,
// in member-name order.
func writeArchive(w io.Writer, manifest map[string]string) ([]archivedMember, error) {
	names := make([]string, 0, len(manifest))
	for name := range manifest {
		names = append(names, name)
	}
	sort.Strings(names)

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	var written []archivedMember
	for _, name := range names {
		size, err := addMember(tw, name, manifest[name])
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", name, err)
		}
		written = append(written, archivedMember{name: name, size: size})
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return written, gz.Close()
}

func addMember(tw *tar.Writer, name, path string) (int64, error) {
	if path == "" {
		return 0, os.ErrNotExist
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", path)
	}
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: info.Size(), ModTime: info.ModTime()}
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}
	return io.Copy(tw, f)
}

// readArchive restores the members named in manifest and skips the rest.
// Each file is written beside its target and renamed into place, so an
// interrupted restore never leaves a half-written database.
func readArchive(r io.Reader, manifest map[string]string) ([]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return restored, nil
		}
		if err != nil {
			return restored, err
		}
		target := manifest[filepath.Base(hdr.Name)]
		if target == "" || hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := restoreFile(tr, target); err != nil {
			return restored, fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
		restored = append(restored, target)
	}
}

func restoreFile(r io.Reader, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".restore-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}
