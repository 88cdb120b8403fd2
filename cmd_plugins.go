package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/peteski22/plugin-hooks/internal/plugins"
)

type pluginsOptions struct {
	jsonOutput bool
}

func newPluginsCmd(rootFlags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect the configured plugins",
	}

	opts := &pluginsOptions{}

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured plugins in declaration order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPluginsList(cmd, rootFlags, opts)
		},
	}
	list.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate every plugin descriptor and report all problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPluginsValidate(cmd, rootFlags)
		},
	}

	cmd.AddCommand(list, validate)

	return cmd
}

type pluginRow struct {
	Name     string   `json:"name"`
	Mode     string   `json:"mode"`
	Priority int      `json:"priority"`
	Hooks    []string `json:"hooks"`
	Location string   `json:"location"`
}

func runPluginsList(cmd *cobra.Command, rootFlags *rootFlags, opts *pluginsOptions) error {
	reg, err := buildRegistry(cmd, rootFlags)
	if err != nil {
		return err
	}

	rows := make([]pluginRow, 0, len(reg.Names()))
	for _, pi := range reg.Plugins() {
		location := "local"
		if pi.Remote() {
			location = "remote"
		}
		rows = append(rows, pluginRow{
			Name:     pi.Name(),
			Mode:     pi.Mode().String(),
			Priority: pi.Priority(),
			Hooks:    pi.Config().Hooks,
			Location: location,
		})
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	return renderPluginTable(out, rows)
}

func renderPluginTable(out io.Writer, rows []pluginRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(out, "No plugins configured.")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tMODE\tPRIORITY\tLOCATION\tHOOKS")
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Name, r.Mode, r.Priority, r.Location, strings.Join(r.Hooks, ","))
	}

	return tw.Flush()
}

func runPluginsValidate(cmd *cobra.Command, rootFlags *rootFlags) error {
	reg, err := buildRegistry(cmd, rootFlags)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d plugins OK, active hooks: %s\n",
		len(reg.Names()), strings.Join(reg.Hooks(), ", "))
	return err
}

// buildRegistry validates the configured descriptors without starting anything.
func buildRegistry(cmd *cobra.Command, rootFlags *rootFlags) (*plugins.Registry, error) {
	a, err := loadApp(rootFlags, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	return plugins.BuildRegistry(a.cfg.Plugins, a.hookTypes, a.factories)
}
