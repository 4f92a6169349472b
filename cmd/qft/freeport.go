package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/qft/remote"
)

// getFreePortCommand is the remote half of port negotiation. Its quiet output
// is parsed by remote.ParsePort on the sending side.
func getFreePortCommand() *cobra.Command {
	r := remote.DefaultPortRange()
	var quiet bool

	cmd := &cobra.Command{
		Use:   "get-free-port",
		Short: "Print the first bindable TCP port in a range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.Validate(); err != nil {
				return err
			}
			if r.BelowDynamicRange() {
				logrus.WithFields(logrus.Fields{
					"function": "getFreePort",
					"range":    r.String(),
				}).Warnf("Start port is below the dynamic range starting at %d", remote.DynamicPortStart)
			}

			port, err := remote.FindFreePort(r)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if quiet {
				_, err = fmt.Fprintf(out, "%d\n", port)
				return err
			}
			_, err = fmt.Fprintf(out, "%d\nport %d is free on this host (searched %s)\n", port, port, r)
			return err
		},
	}

	cmd.Flags().Uint16Var(&r.Start, "start-port", r.Start, "First port to try")
	cmd.Flags().Uint16Var(&r.End, "end-port", r.End, "Last port to try")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the port number")
	return cmd
}
