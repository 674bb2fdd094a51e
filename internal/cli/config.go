package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cloak-fx/cloak/internal/config"
)

func newConfigCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or manage configuration",
		Long: `Show or manage cloakctl configuration.

Running bare 'cloakctl config' is the same as 'cloakctl config show'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return configShow(e)
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return configShow(e)
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a config file with commented defaults",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return configInit(e, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	cmd.AddCommand(show, initCmd)
	return cmd
}

func configShow(e *env) error {
	data, err := e.cfg.YAML()
	if err != nil {
		return err
	}
	if used := e.v.ConfigFileUsed(); used != "" {
		e.ui.Info("config file: %s", used)
	} else {
		e.ui.Info("no config file; using defaults and environment")
	}
	_, err = e.ui.Out.Write(data)
	return err
}

func configInit(e *env, force bool) error {
	path := e.configFile
	if path == "" {
		dir, err := config.DefaultDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config.yaml")
	}

	cfg, err := config.Decode(e.v)
	if err != nil {
		return err
	}
	if err := config.WriteFile(path, cfg, force); err != nil {
		return err
	}
	e.ui.Success("Wrote %s", path)
	return nil
}
