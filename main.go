package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"monomux/internal/client"
	"monomux/internal/daemonize"
	"monomux/internal/wire"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand builds the CLI surface §6 specifies: `monomux [--server]
// [PROGRAM...]`. Cobra owns argument parsing here and nowhere else — this
// is the single file in the module allowed to import it.
func newRootCommand() *cobra.Command {
	var serverMode bool

	cmd := &cobra.Command{
		Use:   "monomux [PROGRAM...]",
		Short: "a terminal session multiplexer",
		Long: "MonoMux multiplexes PTY sessions behind a background server that outlives any " +
			"one attached client. Run without --server to attach as a client, spawning a " +
			"server in the background on first use.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			if serverMode {
				return runServer()
			}
			return runClient(args)
		},
	}
	cmd.Flags().BoolVar(&serverMode, "server", false, "run the server in the foreground of this process")
	cmd.AddCommand(newStopCommand(), newStatusCommand())
	return cmd
}

// newStopCommand wires daemonize.Stop up to the CLI — the teacher's
// `pty-daemon stop` subcommand, carried over as `monomux stop`.
func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "stop",
		Short:         "stop the background server for this user",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := daemonize.Stop(); err != nil {
				return fmt.Errorf("monomux: %w", err)
			}
			fmt.Println("monomux: server stopped")
			return nil
		},
	}
}

// newStatusCommand wires daemonize.Status up to the CLI — the teacher's
// `pty-daemon status` subcommand, carried over as `monomux status`.
func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "report whether the background server for this user is running",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			pid, running := daemonize.Status()
			if !running {
				fmt.Println("monomux: server is not running")
				os.Exit(1)
			}
			fmt.Printf("monomux: server is running (pid %d)\n", pid)
			return nil
		},
	}
}

// runServer implements --server: run the daemon body in the foreground of
// the invoking process (§6). It is what the client re-execs into when no
// server is reachable.
func runServer() error {
	return daemonize.RunForeground(context.Background())
}

// runClient implements the client path of §6: connect to the configured
// server socket, forking a daemonized server and retrying once if none is
// reachable, then create a fresh session running PROGRAM (or the default
// shell if none is given) and attach to it. It always creates a new
// session; it never attaches to a session that already exists.
func runClient(args []string) error {
	sockPath := daemonize.SocketPath()

	conn, err := client.Dial(sockPath, slog.Default())
	if err != nil {
		if startErr := daemonize.Start(); startErr != nil {
			return fmt.Errorf("monomux: no server reachable and could not start one: %w", startErr)
		}
		conn, err = client.Dial(sockPath, slog.Default())
		if err != nil {
			return fmt.Errorf("monomux: connecting to freshly started server: %w", err)
		}
	}
	defer conn.Close()

	program, programArgs := resolveProgram(args)
	mkRsp, err := conn.MakeSession("", wire.SpawnOptions{Program: program, Args: programArgs})
	if err != nil {
		return fmt.Errorf("monomux: creating session: %w", err)
	}
	if !mkRsp.Success {
		return fmt.Errorf("monomux: server refused to create a session")
	}

	attachRsp, err := conn.Attach(mkRsp.Name)
	if err != nil {
		return fmt.Errorf("monomux: attaching to session %q: %w", mkRsp.Name, err)
	}
	if !attachRsp.Success {
		return fmt.Errorf("monomux: server refused to attach to session %q", mkRsp.Name)
	}

	return conn.PumpData(client.NewRealTerminal())
}

// resolveProgram splits PROGRAM... into a program path and its arguments,
// defaulting to the invoking user's preferred shell when none was given:
// $SHELL, then /bin/bash, then /bin/sh.
func resolveProgram(args []string) (string, []string) {
	if len(args) > 0 {
		return args[0], args[1:]
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell, nil
	}
	if _, err := os.Stat("/bin/bash"); err == nil {
		return "/bin/bash", nil
	}
	return "/bin/sh", nil
}
