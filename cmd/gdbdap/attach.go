package main

import (
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newAttachCmd is the helper gdbdap re-execs itself as to back a
// runInTerminal request: the client's integrated terminal runs
// "gdbdap attach <socket>", which dials the socket the running
// session opened and bridges this process's stdio to it, putting
// the local terminal in raw mode for the duration so the inferior
// sees keystrokes (Ctrl-C included) exactly as typed.
func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "attach <socket>",
		Short:  "Attach this terminal to a running inferior (internal helper)",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(args[0])
		},
	}
}

func runAttach(socketPath string) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		prev, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, prev)
		}
	}

	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(conn, os.Stdin)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(os.Stdout, conn)
		errCh <- err
	}()
	return <-errCh
}
