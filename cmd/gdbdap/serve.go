package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opendbg/gdbdap/dap"
)

// serveConfig is the optional file a client can point --config at to
// pre-seed defaults for every launch/attach request this process
// serves, so a client that cannot express every LaunchConfig field in
// its own UI still gets a sensible gdbPath, say.
type serveConfig struct {
	GdbPath string `yaml:"gdbPath"`
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the debug adapter over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg serveConfig
			if configPath != "" {
				loaded, err := loadServeConfig(configPath)
				if err != nil {
					return err
				}
				cfg = *loaded
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file of default launch options")
	return cmd
}

func loadServeConfig(path string) (*serveConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg serveConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func runServe(ctx context.Context, cfg serveConfig) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	conn := dap.NewConn(os.Stdin, os.Stdout)
	defer conn.Close()

	sess := dap.NewSession(nil, nil, nil, log)
	sess.DefaultGdbPath = cfg.GdbPath
	srv := dap.NewServer(sess.Handler())
	return srv.Serve(ctx, conn)
}
