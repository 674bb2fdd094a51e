package cli

import "github.com/spf13/cobra"

func newVersionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			e.ui.Info("cloakctl %s (commit %s, built %s)", e.build.Version, e.build.Commit, e.build.Date)
			return nil
		},
	}
}
