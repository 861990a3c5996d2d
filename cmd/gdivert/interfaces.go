package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sofiworker/gdivert/gnet/divert"
)

func newInterfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "List interfaces usable as packet sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ifaces, err := divert.Interfaces()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tMTU\tSTATE\tADDRESSES")
			for _, ifc := range ifaces {
				addrs := make([]string, 0, len(ifc.Addrs))
				for _, a := range ifc.Addrs {
					addrs = append(addrs, a.String())
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", ifc.Index, ifc.Name, ifc.MTU, ifc.OperState, strings.Join(addrs, ","))
			}
			return w.Flush()
		},
	}
}
