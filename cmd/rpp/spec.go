package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/davidkant/rpp/internal/controlspec"
	"github.com/spf13/cobra"
)

var presetName string

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Inspect parameter mappings",
	Long: `Inspect the mapping between normalized control positions and the values
the engine receives.

Subcommands:
  list    List every parameter of a preset
  map     Map a normalized value to its physical value
  unmap   Map a physical value back to [0, 1]`,
}

var specListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the parameters of a preset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		spec, err := resolvePreset()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tLO\tHI\tCURVE\tDEFAULT")
		for _, name := range spec.Names() {
			elem, _ := spec.Lookup(name)
			def := "-"
			if elem.Default != nil {
				def = strconv.FormatFloat(*elem.Default, 'g', -1, 64)
			}
			fmt.Fprintf(w, "%s\t%g\t%g\t%s\t%s\n", name, elem.Lo, elem.Hi, elem.Curve, def)
		}
		return w.Flush()
	},
}

var specMapCmd = &cobra.Command{
	Use:   "map <name> <value>",
	Short: "Map a normalized value through a preset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return convert(cmd, args, (*controlspec.ControlSpec).Map)
	},
}

var specUnmapCmd = &cobra.Command{
	Use:   "unmap <name> <value>",
	Short: "Unmap a physical value through a preset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return convert(cmd, args, (*controlspec.ControlSpec).Unmap)
	},
}

func init() {
	specCmd.PersistentFlags().StringVarP(&presetName, "preset", "p", "", "Preset (rust or legacy; default: render.preset)")
	specCmd.AddCommand(specListCmd)
	specCmd.AddCommand(specMapCmd)
	specCmd.AddCommand(specUnmapCmd)
}

func resolvePreset() (*controlspec.ControlSpec, error) {
	name := presetName
	if name == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return nil, err
		}
		name = cfg.Render.Preset
	}
	return controlspec.Preset(name)
}

func convert(cmd *cobra.Command, args []string, fn func(*controlspec.ControlSpec, string, float64) (float64, error)) error {
	spec, err := resolvePreset()
	if err != nil {
		return err
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("value %q: %w", args[1], err)
	}
	out, err := fn(spec, args[0], v)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(out, 'g', -1, 64))
	return nil
}
