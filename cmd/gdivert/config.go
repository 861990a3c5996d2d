package main

import (
	"github.com/spf13/cobra"

	"github.com/sofiworker/gdivert/gcodec"
	"github.com/sofiworker/gdivert/gerr"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var enc gcodec.BytesEncoder
			switch format {
			case "yaml":
				enc = gcodec.NewYAMLCodec()
			case "json":
				enc = gcodec.NewIndentedJSONCodec("  ")
			default:
				return gerr.MalformedInput("gdivert.config", "unknown format %q, want yaml or json", format)
			}
			cfg, err := loadConfig(root, nil)
			if err != nil {
				return err
			}
			out, err := cfg.Encode(enc)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	return cmd
}
