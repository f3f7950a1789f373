package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ragagent/internal/assistant"
	"ragagent/internal/knowledge"
)

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build, update and inspect the persisted document index",
	}
	cmd.AddCommand(indexBuildCmd())
	cmd.AddCommand(indexUpdateCmd())
	cmd.AddCommand(indexRebuildCmd())
	cmd.AddCommand(indexStatusCmd())
	return cmd
}

// buildOptions loads config and returns the options for the index commands.
func buildOptions() (knowledge.BuildOptions, error) {
	cfg, err := loadConfig()
	if err != nil {
		return knowledge.BuildOptions{}, fmt.Errorf("load config: %w", err)
	}
	deps, err := assistant.DepsFromConfig(cfg, logger)
	if err != nil {
		return knowledge.BuildOptions{}, err
	}
	return deps.BuildOptions(), nil
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func indexBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build the index from the data directory, or load it if already persisted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts, err := buildOptions()
			if err != nil {
				return err
			}
			_, res, err := knowledge.SetupPersistentIndex(ctx, opts)
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
}

func indexUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Add documents that are not in the persisted index yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts, err := buildOptions()
			if err != nil {
				return err
			}
			_, res, err := knowledge.UpdateIndexWithNewDocuments(ctx, opts)
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
}

func indexRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Discard the persisted index and build it again",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts, err := buildOptions()
			if err != nil {
				return err
			}
			_, res, err := knowledge.RebuildIndex(ctx, opts)
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
}

func indexStatusCmd() *cobra.Command {
	var showDocs bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the size of the persisted index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts, err := buildOptions()
			if err != nil {
				return err
			}
			if _, err := os.Stat(opts.PersistDir); os.IsNotExist(err) {
				fmt.Printf("No index at %s. Run 'ragagent index build'.\n", opts.PersistDir)
				return nil
			}
			ix, err := knowledge.LoadIndex(ctx, opts.PersistDir, knowledge.IndexConfig{
				Embedder: opts.Embedder,
				Chunker:  opts.Chunker,
				Logger:   opts.Logger,
			})
			if err != nil {
				return err
			}
			out := map[string]any{"stats": ix.Stats()}
			if info, err := os.Stat(filepath.Join(opts.PersistDir, "index.db")); err == nil {
				out["size"] = humanize.IBytes(uint64(info.Size()))
				out["modified"] = humanize.Time(info.ModTime())
			}
			if showDocs {
				out["documents"] = ix.Documents()
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showDocs, "docs", false, "also list the indexed documents")
	return cmd
}
