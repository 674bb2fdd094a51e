package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloak-fx/cloak/internal/client"
	"github.com/cloak-fx/cloak/internal/logging"
	"github.com/cloak-fx/cloak/internal/session"
	"github.com/cloak-fx/cloak/internal/view"
)

func newRunCmd(e *env) *cobra.Command {
	var keepGoing bool

	cmd := &cobra.Command{
		Use:   "run <op>...",
		Short: "Run lifecycle operations in order",
		Long: `Run lifecycle operations against the camera service one after another
and print a summary table. Operations: start, capture, stop.

Stops at the first operation that fails or is refused unless
--keep-going is set.`,
		Example: "  cloakctl run start capture stop",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops := make([]session.Op, 0, len(args))
			for _, a := range args {
				op, ok := session.ParseOp(strings.ToLower(a))
				if !ok {
					return fmt.Errorf("unknown operation %q (want start, capture or stop)", a)
				}
				ops = append(ops, op)
			}
			return runOps(cmd, e, ops, keepGoing)
		},
	}
	cmd.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "Continue after a failed operation")
	return cmd
}

func runOps(cmd *cobra.Command, e *env, ops []session.Op, keepGoing bool) error {
	cfg := e.cfg
	level := cfg.Log.Level
	if e.verbose {
		level = "debug"
	}
	if err := logging.Configure(logging.Config{
		Level:   level,
		Output:  cmd.ErrOrStderr(),
		Service: "cloakctl",
		Console: true,
	}); err != nil {
		return err
	}

	var rows []session.Transition
	ctrl := session.New(
		client.NewHTTPClient(cfg.Service.BaseURL, cfg.Service.RequestTimeout, logging.WithComponent("client")),
		session.WithLogger(logging.WithComponent("session")),
		session.WithObserver(func(t session.Transition) {
			if t.Outcome != session.OutcomeStarted {
				rows = append(rows, t)
			}
		}),
	)
	binding := view.New(view.StreamEndpoint(cfg.Service.BaseURL))

	var failed []string
	for _, op := range ops {
		e.ui.VerboseLog("%s", op)
		before := len(rows)
		st := ctrl.Do(cmd.Context(), op)
		e.ui.Status(st.Status)

		if v := binding.Project(st); v.StreamURL != "" {
			e.ui.VerboseLog("stream: %s", v.StreamURL)
		}

		ok := len(rows) > before && rows[len(rows)-1].Outcome == session.OutcomeSuccess
		if ok {
			continue
		}
		failed = append(failed, op.String())
		if !keepGoing {
			break
		}
	}

	fmt.Fprintln(e.ui.Out)
	if err := e.ui.TransitionTable(rows); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed: %s", strings.Join(failed, ", "))
	}
	return nil
}
