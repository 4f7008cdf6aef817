//go:build darwin || linux

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/raisov/Transceiver/datagram"
	"github.com/raisov/Transceiver/transmitter"
)

type sendOptions struct {
	host  string
	iface string
	wait  time.Duration
	count int
}

func newSendCommand(root *rootOptions) *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send [OPTIONS] PORT MESSAGE",
		Short: "Send a datagram and print the replies",
		Long: "Send MESSAGE to PORT on --host. Without a host the message is broadcast, " +
			"on the broadcast address of --interface if given.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[0])
			if err != nil {
				return err
			}
			return runSend(cmd.Context(), cmd, root, port, []byte(args[1]), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.host, "host", "H", "", "Destination host name or address")
	flags.StringVarP(&opts.iface, "interface", "i", "", "Send through this interface, by name or index")
	flags.DurationVarP(&opts.wait, "wait", "w", 0, "Wait this long for replies")
	flags.IntVarP(&opts.count, "count", "c", 1, "Number of datagrams to send")

	return cmd
}

func runSend(ctx context.Context, cmd *cobra.Command, root *rootOptions, port uint16, msg []byte, opts sendOptions) error {
	txOpts := []transmitter.Option{transmitter.WithDirectory(root.directory)}
	if opts.host != "" {
		txOpts = append(txOpts, transmitter.WithHost(opts.host))
	}
	ifi, err := root.lookupInterface(opts.iface)
	if err != nil {
		return err
	}
	if ifi != nil {
		txOpts = append(txOpts, transmitter.WithInterface(*ifi))
	}

	tx, err := transmitter.New(ctx, port, txOpts...)
	if err != nil {
		return err
	}
	defer tx.Close()

	out := cmd.OutOrStdout()
	if opts.wait > 0 {
		tx.SetHandler(datagram.Handlers{
			Datagram: func(d *datagram.Datagram) {
				from, _ := d.Sender()
				fmt.Fprintf(out, "reply from %s: %q\n", from, d.Data())
			},
			Error: func(err error) {
				logrus.WithError(err).Warn("reply path")
			},
		})
	}

	for i := 0; i < opts.count; i++ {
		if err := tx.Send(ctx, msg); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "sent %d datagram(s) from %s to %s\n", opts.count, tx.LocalAddr(), tx.RemoteAddr())

	if opts.wait > 0 {
		select {
		case <-time.After(opts.wait):
		case <-ctx.Done():
		}
	}
	return nil
}
