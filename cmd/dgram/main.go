//go:build darwin || linux

// Command dgram sends and receives UDP datagrams from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/raisov/Transceiver/netif"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	directory netif.Directory
}

func newRootCommand(dir netif.Directory) *cobra.Command {
	opts := &rootOptions{directory: dir}

	cmd := &cobra.Command{
		Use:           "dgram [OPTIONS] COMMAND",
		Short:         "Send and receive UDP datagrams",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogging()
		},
	}

	flags := cmd.PersistentFlags()
	installLogFlags(opts, flags)

	cmd.AddCommand(
		newListenCommand(opts),
		newSendCommand(opts),
		newInterfacesCommand(opts),
	)
	return cmd
}

func installLogFlags(opts *rootOptions, flags *pflag.FlagSet) {
	flags.StringVarP(&opts.logLevel, "log-level", "l", "info", `Set the logging level ("debug"|"info"|"warn"|"error"|"fatal")`)
	flags.StringVar(&opts.logFormat, "log-format", "text", `Set the logging format ("text"|"json")`)
}

func (o *rootOptions) setupLogging() error {
	lvl, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return fmt.Errorf("unable to parse logging level: %s", o.logLevel)
	}
	logrus.SetLevel(lvl)

	switch o.logFormat {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format: %s", o.logFormat)
	}
	return nil
}

// lookupInterface resolves a --interface flag value, by name or index.
func (o *rootOptions) lookupInterface(name string) (*netif.Interface, error) {
	if name == "" {
		return nil, nil
	}
	ifi, err := netif.ByName(o.directory, name)
	if err != nil {
		var index int
		if _, serr := fmt.Sscanf(name, "%d", &index); serr != nil {
			return nil, err
		}
		if ifi, err = netif.ByIndex(o.directory, index); err != nil {
			return nil, err
		}
	}
	return &ifi, nil
}

func main() {
	logrus.SetOutput(os.Stderr)

	cmd := newRootCommand(netif.System)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
