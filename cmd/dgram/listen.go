//go:build darwin || linux

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/raisov/Transceiver/datagram"
	"github.com/raisov/Transceiver/receiver"
)

type listenOptions struct {
	group       string
	iface       string
	addresses   []string
	echo        bool
	maxSize     int
	metricsAddr string
}

func newListenCommand(root *rootOptions) *cobra.Command {
	var opts listenOptions

	cmd := &cobra.Command{
		Use:   "listen [OPTIONS] PORT",
		Short: "Print datagrams received on a port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, cmd, root, port, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.group, "group", "g", "", "Join a multicast group instead of binding local addresses")
	flags.StringVarP(&opts.iface, "interface", "i", "", "Restrict to one interface, by name or index")
	flags.StringSliceVarP(&opts.addresses, "address", "a", nil, "Bind these addresses instead of the interface addresses")
	flags.BoolVar(&opts.echo, "echo", false, "Reply to every datagram with its own payload")
	flags.IntVar(&opts.maxSize, "max-size", datagram.DefaultDataLength, "Largest payload kept per datagram")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")

	return cmd
}

func runListen(ctx context.Context, cmd *cobra.Command, root *rootOptions, port uint16, opts listenOptions) error {
	rxOpts := []receiver.Option{
		receiver.WithDirectory(root.directory),
		receiver.WithMaxDatagramSize(opts.maxSize),
	}
	ifi, err := root.lookupInterface(opts.iface)
	if err != nil {
		return err
	}
	if ifi != nil {
		rxOpts = append(rxOpts, receiver.WithInterface(*ifi))
	}
	if len(opts.addresses) > 0 {
		addrs := make([]netip.Addr, 0, len(opts.addresses))
		for _, s := range opts.addresses {
			a, err := netip.ParseAddr(s)
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", s, err)
			}
			addrs = append(addrs, a)
		}
		rxOpts = append(rxOpts, receiver.WithAddresses(addrs...))
	}

	var rx *receiver.Receiver
	if opts.group != "" {
		rx, err = receiver.NewMulticast(ctx, port, opts.group, rxOpts...)
	} else {
		rx, err = receiver.New(ctx, port, rxOpts...)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, a := range rx.LocalAddrs() {
		fmt.Fprintf(out, "listening on %s\n", a)
	}

	rx.SetHandler(datagram.Handlers{
		Datagram: func(d *datagram.Datagram) {
			from, _ := d.Sender()
			ifname := "?"
			if ifi, err := d.ReceivingInterface(); err == nil {
				ifname = ifi.Name
			}
			suffix := ""
			if d.DataTruncated() {
				suffix = " (truncated)"
			}
			fmt.Fprintf(out, "%s via %s: %q%s\n", from, ifname, d.Data(), suffix)
			if opts.echo {
				if err := d.Reply(ctx, d.Data()); err != nil {
					logrus.WithError(err).Warn("echo failed")
				}
			}
		},
		Error: func(err error) {
			logrus.WithError(err).Warn("receive error")
		},
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return rx.Close()
	})
	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logrus.WithField("address", opts.metricsAddr).Info("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func parsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(p), nil
}
