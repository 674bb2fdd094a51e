// Package cli holds the cloakctl command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloak-fx/cloak/internal/config"
	"github.com/cloak-fx/cloak/internal/output"
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// skipConfig marks commands that run without loading the config file.
const skipConfig = "skip-config"

// env is shared by every command of one invocation.
type env struct {
	build BuildInfo
	v     *viper.Viper
	ui    *output.UI
	cfg   config.Config

	configFile string
	verbose    bool
}

// NewRootCmd builds the command tree. Running it without a subcommand
// opens the interactive controller.
func NewRootCmd(build BuildInfo) *cobra.Command {
	e := &env{build: build, v: viper.New(), ui: output.New()}

	root := &cobra.Command{
		Use:   "cloakctl",
		Short: "Control a remote invisibility-cloak camera",
		Long: `cloakctl drives a camera service through its lifecycle: start the
camera, capture a background frame, watch the processed video and stop
the camera again.

Run without arguments for the interactive view, or use 'cloakctl run'
to script a sequence of operations.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), e)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&e.configFile, "config", "", "Config file (default ~/.config/cloak/config.yaml)")
	flags.BoolVarP(&e.verbose, "verbose", "v", false, "Verbose output")
	flags.String("base-url", "", "Camera service base URL")
	flags.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.Duration("timeout", 0, "Per-request timeout for lifecycle calls")
	e.v.BindPFlag("service.base_url", flags.Lookup("base-url"))
	e.v.BindPFlag("log.level", flags.Lookup("log-level"))
	e.v.BindPFlag("service.request_timeout", flags.Lookup("timeout"))

	root.AddCommand(newRunCmd(e), newConfigCmd(e), newVersionCmd(e))
	return root
}

func (e *env) init(cmd *cobra.Command) error {
	e.ui.Out = cmd.OutOrStdout()
	e.ui.ErrOut = cmd.ErrOrStderr()
	e.ui.Verbose = e.verbose

	if cmd.Annotations[skipConfig] == "true" {
		config.SetDefaults(e.v)
		return nil
	}
	if err := config.Setup(e.v, e.configFile); err != nil {
		return err
	}
	cfg, err := config.Decode(e.v)
	if err != nil {
		return err
	}
	e.cfg = cfg
	if used := e.v.ConfigFileUsed(); used != "" {
		e.ui.VerboseLog("config: %s", used)
	}
	return nil
}

// Execute runs cloakctl and exits non-zero on error.
func Execute(version, commit, date string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd(BuildInfo{Version: version, Commit: commit, Date: date})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
