package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/diffdeck/diffdeck/internal/config"
	"github.com/diffdeck/diffdeck/internal/repo"
	"github.com/diffdeck/diffdeck/internal/server"
	"github.com/diffdeck/diffdeck/internal/state"
)

var rootCmd = &cobra.Command{
	Use:   "diffdeck [flags] [diff_args ...]",
	Short: "Web-based git diff server for viewing diffs in your browser",
	Long: `diffdeck starts a local web server for browsing the diff between two
trees of one or more git repositories.

Positional arguments are passed to git diff, so the usual revision and
pathspec syntax works. Flag-style git arguments go after "--".

Examples:
  diffdeck                         # working directory vs HEAD
  diffdeck HEAD~3..HEAD            # a revision range
  diffdeck -- --cached             # staged changes
  diffdeck --git-repo api:/src/api --git-repo web:/src/web`,
	Args:               cobra.ArbitraryArgs,
	RunE:               run,
	SilenceUsage:       true,
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
}

func init() {
	f := rootCmd.Flags()

	f.String("config", "", "Path to a config file (default: .diffdeck.yaml in CWD or $HOME)")
	f.String("host", "localhost", "Host name to serve the UI on")
	f.IntP("port", "p", 0, "Port to listen on (0 picks a free port)")
	f.String("root-path", "", "URL prefix the app is mounted under (e.g. /diffdeck)")
	f.Int("timeout", 0, "Shut the server down after this many minutes (0 disables)")
	f.Bool("no-timeout", false, "Disable the automatic timeout")
	f.Int("watch", 10, "Poll interval in seconds for change detection (0 disables)")
	f.Bool("no-watch", false, "Disable watch mode")

	f.Int("unified", 8, "Number of unified context lines")
	f.String("extra-dir-diff-args", "", "Extra arguments for the directory diff")
	f.String("extra-file-diff-args", "", "Extra arguments for per-file diffs")
	f.Int("max-diff-width", 160, "Maximum width for diff display")
	f.String("theme", "googlecode", "Color theme for syntax highlighting")
	f.Int("max-lines-for-syntax", 25000, "Maximum lines for syntax highlighting")
	f.String("diff-algorithm", "", "Diff algorithm (myers, minimal, patience, histogram)")

	f.Bool("colourblind", false, "Use a blue/orange palette instead of red/green")
	f.String("color-insert", config.DefaultColorInsert, "Background color for inserted lines")
	f.String("color-delete", config.DefaultColorDelete, "Background color for deleted lines")
	f.String("color-char-insert", config.DefaultColorCharInsert, "Background color for inserted characters")
	f.String("color-char-delete", config.DefaultColorCharDelete, "Background color for deleted characters")

	f.StringArray("git-repo", nil, "Repository to serve, as label:/path or /path (repeatable)")
	f.Bool("manage-repos", false, "Enable repository management from the web UI")
	f.Bool("no-manage-repos", false, "Disable repository management from the web UI")

	f.String("log-file", "", "Write logs to this file with rotation instead of stderr")
}

// flagBindings maps config keys to their flag names.
var flagBindings = map[string]string{
	"host":                 "host",
	"port":                 "port",
	"root_path":            "root-path",
	"timeout":              "timeout",
	"watch":                "watch",
	"unified":              "unified",
	"extra_dir_diff_args":  "extra-dir-diff-args",
	"extra_file_diff_args": "extra-file-diff-args",
	"max_diff_width":       "max-diff-width",
	"theme":                "theme",
	"max_lines_for_syntax": "max-lines-for-syntax",
	"diff_algorithm":       "diff-algorithm",
	"colors.insert":        "color-insert",
	"colors.delete":        "color-delete",
	"colors.char_insert":   "color-char-insert",
	"colors.char_delete":   "color-char-delete",
	"manage_repos":         "manage-repos",
	"log_file":             "log-file",
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := loadConfig(configPath, cmd)
	if err != nil {
		return err
	}

	applyFlagOverrides(cfg, cmd)

	repos, err := resolveRepos(cmd)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}

	diffArgs := buildDiffArgs(cfg, args)

	registry := state.NewRegistry(state.Config{
		Repos:        repos,
		DiffArgs:     diffArgs,
		WatchEnabled: cfg.WatchSeconds > 0,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry.Init(ctx)

	srv := server.New(cfg, registry, logger)
	registry.SetOnChange(srv.NotifyChange)

	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Printf("Starting diffdeck server at http://%s%s\n", srv.Addr(), cfg.RootPath)

	var watcher *state.Watcher
	if cfg.WatchSeconds > 0 {
		watcher, err = state.NewWatcher(registry,
			time.Duration(cfg.WatchSeconds)*time.Second,
			log.New(logger.Writer(), "[watch] ", log.LstdFlags))
		if err != nil {
			logger.Printf("watch disabled, cannot create watcher: %v", err)
		} else {
			watcher.Start()
			fmt.Printf("Watch mode active: checking for changes every %d seconds\n", cfg.WatchSeconds)
		}
	}

	if cfg.TimeoutMinutes > 0 {
		fmt.Printf("Server will automatically shut down after %d minutes\n", cfg.TimeoutMinutes)
		go func() {
			<-time.After(time.Duration(cfg.TimeoutMinutes) * time.Minute)
			// Hard deadline: exit reclaims all processes and temp trees.
			logger.Printf("timeout reached (%d minutes), exiting", cfg.TimeoutMinutes)
			os.Exit(0)
		}()
	}

	<-ctx.Done()
	fmt.Println("\nShutting down...")

	if watcher != nil {
		watcher.Stop()
	}
	if err := srv.Stop(); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	registry.Shutdown()

	return nil
}

// loadConfig reads the layered configuration and binds changed flags over
// it.
func loadConfig(configPath string, cmd *cobra.Command) (*config.Config, error) {
	cfg, v, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	for key, flag := range flagBindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("apply flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFlagOverrides handles the flags that are not simple config
// bindings: negation flags, the colorblind palette, and the
// security-aware manage-repos default.
func applyFlagOverrides(cfg *config.Config, cmd *cobra.Command) {
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); noWatch {
		cfg.WatchSeconds = 0
	}
	if noTimeout, _ := cmd.Flags().GetBool("no-timeout"); noTimeout {
		cfg.TimeoutMinutes = 0
	}
	if cb, _ := cmd.Flags().GetBool("colourblind"); cb {
		cfg.ApplyColorblindPalette()
	}

	switch {
	case mustBool(cmd, "no-manage-repos"):
		cfg.ManageRepos = false
	case cmd.Flags().Changed("manage-repos"):
		cfg.ManageRepos = mustBool(cmd, "manage-repos")
	default:
		// Management means any visitor can point the server at arbitrary
		// paths, so it defaults on only for loopback hosts.
		cfg.ManageRepos = cfg.IsLocalhost()
		if !cfg.IsLocalhost() {
			fmt.Fprintln(os.Stderr, "WARNING: repository management is disabled by default when --host is not localhost.")
			fmt.Fprintln(os.Stderr, "         Use --manage-repos to explicitly enable it.")
		}
	}

	if cfg.ManageRepos && !cfg.IsLocalhost() {
		fmt.Fprintln(os.Stderr, "WARNING: repository management is enabled on a non-localhost host.")
		fmt.Fprintln(os.Stderr, "Any user with network access can read git repositories on this machine.")
	}
}

func mustBool(cmd *cobra.Command, name string) bool {
	b, _ := cmd.Flags().GetBool(name)
	return b
}

// resolveRepos builds the validated repository set from --git-repo flags,
// defaulting to the current directory.
func resolveRepos(cmd *cobra.Command) ([]repo.Repo, error) {
	repoArgs, _ := cmd.Flags().GetStringArray("git-repo")

	var repos []repo.Repo
	if len(repoArgs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		r, err := repo.ParseArg(cwd)
		if err != nil {
			return nil, err
		}
		repos = []repo.Repo{r}
	} else {
		for _, arg := range repoArgs {
			r, err := repo.ParseArg(arg)
			if err != nil {
				return nil, err
			}
			repos = append(repos, r)
		}
		repos = repo.EnsureUniqueLabels(repos)
	}

	if err := repo.ValidateList(repos); err != nil {
		return nil, fmt.Errorf("invalid repository configuration: %w", err)
	}
	return repos, nil
}

// buildDiffArgs folds the configured algorithm and extra directory diff
// arguments into the positional git diff arguments.
func buildDiffArgs(cfg *config.Config, positional []string) []string {
	var args []string
	if cfg.DiffAlgorithm != "" {
		args = append(args, "--diff-algorithm="+cfg.DiffAlgorithm)
	}
	if cfg.ExtraDirDiffArgs != "" {
		args = append(args, strings.Fields(cfg.ExtraDirDiffArgs)...)
	}
	return append(args, positional...)
}

// buildLogger returns the process logger, routed through rotation when a
// log file is configured.
func buildLogger(cfg *config.Config) (*log.Logger, error) {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
	}
	return log.New(out, "[diffdeck] ", log.LstdFlags), nil
}
