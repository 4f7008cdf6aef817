//go:build darwin || linux

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newInterfacesCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "interfaces",
		Aliases: []string{"ifaces"},
		Short:   "List network interfaces as the transceiver sees them",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ifaces, err := root.directory.Interfaces()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tFLAGS\tADDRESSES\tBROADCAST")
			for _, ifi := range ifaces {
				addrs := make([]string, 0, len(ifi.IPv4)+len(ifi.IPv6))
				for _, a := range ifi.Addrs() {
					addrs = append(addrs, a.String())
				}
				bcast := "-"
				if ifi.Broadcast.IsValid() {
					bcast = ifi.Broadcast.String()
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", ifi.Index, ifi.Name, ifi.Flags, strings.Join(addrs, ","), bcast)
			}
			return w.Flush()
		},
	}
}
