package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ragagent/internal/assistant"
	"ragagent/internal/config"
	"ragagent/internal/knowledge"
	"ragagent/internal/server"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "ragagent",
		Short:         "ragagent: document index and tool backend for a voice assistant",
		Long:          "ragagent indexes a directory of documents, builds search and summary tools over it, and serves them with a tool-using agent to a voice session.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file, .json or .yaml (default: ragagent.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(indexCmd())
	root.AddCommand(queryCmd())
	root.AddCommand(askCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(cleanCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads dotenv files, then the config file. A missing config
// file falls back to defaults; an invalid one is an error.
func loadConfig() (*config.Config, error) {
	loadEnvFiles(config.Defaults().General.EnvFiles)

	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		logger.Warn("config not found, using defaults", "path", cfgPath)
		cfg := config.Defaults()
		setupLogger(cfg.General)
		return cfg, nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if loadEnvFiles(cfg.General.EnvFiles) > 0 {
		// Reload so ${VAR} references see the newly loaded variables.
		if cfg, err = config.Load(cfgPath); err != nil {
			return nil, err
		}
	}
	setupLogger(cfg.General)
	return cfg, nil
}

// loadEnvFiles loads each existing file without overriding variables that
// are already set, and returns how many files were read.
func loadEnvFiles(files []string) int {
	loaded := 0
	for _, f := range files {
		f = config.ExpandPath(f)
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			logger.Warn("cannot load env file", "file", f, "error", err)
			continue
		}
		loaded++
	}
	return loaded
}

func setupLogger(gc config.GeneralConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(gc.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if gc.LogFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	slog.SetDefault(logger)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openRuntime loads config and assembles the runtime.
func openRuntime(ctx context.Context) (*assistant.Runtime, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	rt, err := assistant.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return rt, cfg, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Knowledge.DataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "dataDir", cfg.Knowledge.DataDir)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the shell tools, the agent and call traces over HTTP",
		Long:  "Loads or builds the index, assembles the agent and serves the tool API. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			rt, cfg, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if port != 0 {
				cfg.Server.Port = port
			}
			srv := server.New(server.Config{
				Runtime: rt,
				Host:    cfg.Server.Host,
				Port:    cfg.Server.Port,
				APIKey:  cfg.Server.APIKey,
				Logger:  logger,
			})
			return srv.Run(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	return cmd
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query [question]",
		Short: "Search every document and print the answer with sources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			rt, _, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			resp, err := rt.Query(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(resp.String())
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question with the tool-using agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			rt, _, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			answer, err := rt.Run(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(answer)
			return nil
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the shell tools and the tools offered to the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			rt, _, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			fmt.Println("Shell tools:")
			for _, t := range rt.Shell().Tools() {
				fmt.Printf("  %s\n", t.Name())
			}
			fmt.Println("Agent tools:")
			for _, d := range rt.AgentTools() {
				fmt.Printf("  %-40s %s\n", d.Name, firstLine(d.Description))
			}
			return nil
		},
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	if len(line) > 80 {
		line = line[:77] + "..."
	}
	return line
}

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [input] [output]",
		Short: "Write a whitespace-normalized copy of a text document",
		Long:  "Reads the input as UTF-8, falling back to Latin-1, normalizes whitespace and blank lines, and writes UTF-8. The default output is <name>_cleaned<ext> next to the input.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			out := cleanedPath(in)
			if len(args) == 2 {
				out = args[1]
			}

			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			text, encoding := knowledge.DecodeText(data)
			cleaned := knowledge.CleanText(text)
			if err := os.WriteFile(out, []byte(cleaned), 0o644); err != nil {
				return err
			}

			fmt.Printf("Read %s as %s\n", in, encoding)
			fmt.Printf("Original: %d characters, cleaned: %d characters (-%d)\n",
				len(text), len(cleaned), len(text)-len(cleaned))
			fmt.Printf("Cleaned document saved to: %s\n", out)
			return nil
		},
	}
}

func cleanedPath(in string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + "_cleaned" + ext
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. knowledge.chunkSize)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. knowledge.synthesis llm)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values as dot paths, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			for _, p := range config.SortedPaths(paths) {
				data, _ := json.Marshal(paths[p])
				fmt.Printf("%s = %s\n", p, data)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})
	return cmd
}
