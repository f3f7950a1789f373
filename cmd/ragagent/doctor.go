package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ragagent/internal/assistant"
	"ragagent/internal/config"
	"ragagent/internal/knowledge"
	"ragagent/internal/provider"
	"ragagent/internal/trace"
)

// checkReport prints one line per check and tallies the outcomes.
type checkReport struct {
	w                      io.Writer
	passed, warned, failed int
}

func (r *checkReport) line(tag, check, detail string) {
	fmt.Fprintf(r.w, "  [%s] %-20s %s\n", tag, check, detail)
}

func (r *checkReport) pass(check, detail string) { r.passed++; r.line("PASS", check, detail) }
func (r *checkReport) warn(check, detail string) { r.warned++; r.line("WARN", check, detail) }
func (r *checkReport) fail(check, detail string) { r.failed++; r.line("FAIL", check, detail) }

func (r *checkReport) summary() error {
	fmt.Fprintf(r.w, "\n%d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the config, documents, index, trace database and providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			cfgPath := resolveConfigPath()
			r := &checkReport{w: cmd.OutOrStdout()}
			fmt.Fprintf(r.w, "ragagent doctor v%s\n\n", version)

			loadEnvFiles(config.Defaults().General.EnvFiles)
			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config", err.Error())
				fmt.Fprintln(r.w, "\nRun 'ragagent init' to write a default configuration.")
				return r.summary()
			}
			r.pass("Config", cfgPath)

			checkDocuments(r, cfg.Knowledge.DataDir)
			checkIndex(ctx, r, cfg)
			if cfg.Traces.Enabled {
				checkTraces(r, cfg.Traces.DBPath)
			}
			checkProviders(ctx, r, cfg)

			if err := checkPort(cfg.Server.Port); err != nil {
				r.warn("Server port", fmt.Sprintf(":%d unavailable: %v", cfg.Server.Port, err))
			} else {
				r.pass("Server port", fmt.Sprintf(":%d free", cfg.Server.Port))
			}
			return r.summary()
		},
	}
}

func checkDocuments(r *checkReport, dir string) {
	files, err := knowledge.ListFiles(dir)
	if err != nil {
		r.fail("Documents", err.Error())
		return
	}
	if len(files) == 0 {
		r.fail("Documents", dir+" has no documents")
		return
	}
	var total int64
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			total += info.Size()
		}
	}
	r.pass("Documents", fmt.Sprintf("%s (%d files, %s)", dir, len(files), humanize.IBytes(uint64(total))))
}

// checkIndex loads the persisted index the way startup does, so a stale
// format or an embedder change shows up here first.
func checkIndex(ctx context.Context, r *checkReport, cfg *config.Config) {
	if _, err := os.Stat(cfg.Knowledge.PersistDir); errors.Is(err, os.ErrNotExist) {
		r.warn("Index", "not built yet; 'ragagent index build' or the first start builds it")
		return
	}
	deps, err := assistant.DepsFromConfig(cfg, logger)
	if err != nil {
		r.fail("Index", err.Error())
		return
	}
	opts := deps.BuildOptions()
	ix, err := knowledge.LoadIndex(ctx, opts.PersistDir, knowledge.IndexConfig{
		Embedder: opts.Embedder,
		Chunker:  opts.Chunker,
		Logger:   opts.Logger,
	})
	if err != nil {
		r.fail("Index", err.Error())
		return
	}
	st := ix.Stats()
	r.pass("Index", fmt.Sprintf("%d documents, %d chunks", st.Documents, st.Chunks))
}

func checkTraces(r *checkReport, dbPath string) {
	store, err := trace.NewSQLiteStore(dbPath, logger)
	if err != nil {
		r.fail("Trace database", err.Error())
		return
	}
	defer store.Close()
	r.pass("Trace database", dbPath)
}

func checkProviders(ctx context.Context, r *checkReport, cfg *config.Config) {
	var enabled []string
	for name, p := range cfg.Providers {
		if p.Enabled {
			enabled = append(enabled, name)
		}
	}
	if len(enabled) == 0 {
		r.fail("Providers", "none enabled")
		return
	}
	sort.Strings(enabled)
	r.pass("Providers", strings.Join(enabled, ", "))

	if p := provider.NewFactory(cfg, logger).HealthyProvider(ctx); p != nil {
		r.pass("Provider health", p.Name()+" reachable")
	} else {
		r.warn("Provider health", "no enabled provider is reachable")
	}
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return ln.Close()
}
