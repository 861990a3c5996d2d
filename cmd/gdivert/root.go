package main

import (
	"github.com/spf13/cobra"

	"github.com/sofiworker/gdivert/gnet/divert"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "gdivert",
		Short: "gdivert - capture, modify and reinject network layer packets",
		Long: `gdivert reads IPv4/IPv6 packets from a pcap file or a raw socket,
hands matching packets to a handler and reinjects the accepted ones.

Configuration is read from gdivert.yaml (or --config), GDIVERT_* environment
variables and command line flags, in increasing order of precedence.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newInterfacesCmd())
	cmd.AddCommand(newConfigCmd(opts))
	return cmd
}

// loadConfig 依次叠加配置文件、环境变量与显式设置的命令行参数。
func loadConfig(opts *rootOptions, overrides map[string]interface{}) (*divert.Config, error) {
	loader, err := divert.NewLoader(opts.configFile)
	if err != nil {
		return nil, err
	}
	for k, v := range overrides {
		loader.Set(k, v)
	}
	return divert.Decode(loader)
}
