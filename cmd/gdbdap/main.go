package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opendbg/gdbdap/util/logutil"
	"github.com/opendbg/gdbdap/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	logLevel  string
	logFile   string
	logFilter []string
}

func newRootCmd() *cobra.Command {
	var opt rootOptions
	cmd := &cobra.Command{
		Use:   "gdbdap",
		Short: "Debug Adapter Protocol bridge to GDB's machine interface",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opt.setupLogging()
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opt.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opt.logFile, "log-file", "", "write logs to this file instead of stderr")
	cmd.PersistentFlags().StringSliceVar(&opt.logFilter, "log-filter", nil, "suppress debug log lines containing any of these substrings")

	cmd.AddCommand(
		newServeCmd(&opt),
		newAttachCmd(),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) setupLogging() error {
	lvl, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	if o.logFile != "" {
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		logrus.SetOutput(f)
	}

	if len(o.logFilter) > 0 {
		logrus.AddHook(logutil.NewFilter(o.logFilter...))
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", version.Package, version.Version, version.Revision)
			return nil
		},
	}
}
