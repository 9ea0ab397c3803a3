package server

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// SpawnOptions mirrors wire.SpawnOptions (§4.7): program path, argument
// vector, and an environment overlay expressed as a set-list and an
// unset-list rather than a full replacement map, so a session can both add
// and deliberately strip variables from the daemon's own environment.
type SpawnOptions struct {
	Program   string
	Arguments []string
	SetEnv    map[string]string
	UnsetEnv  []string
}

// defaultCols and defaultRows size every session's PTY. §4.5's closed
// message set carries no window-geometry field on any request, so a
// session's PTY size is never round-tripped over the wire.
const (
	defaultCols = 80
	defaultRows = 24
)

// launchResult carries back what MakeSession needs from a successful spawn.
type launchResult struct {
	cmd       *exec.Cmd
	ptyMaster *os.File
}

// launchProcess opens a PTY via pty.StartWithSize and execs opts.Program in
// the child with the slave end as its controlling terminal, applying an
// environment overlay (set then unset, §4.7) on top of the daemon's own
// environment rather than accepting a full replacement map, and injecting
// the MONOMUX_SESSION/MONOMUX_SOCKET variables a nested monomux invocation
// uses to find its host server (§6).
//
// sessionName and socketPath are the values injected as MONOMUX_SESSION and
// MONOMUX_SOCKET.
func launchProcess(opts SpawnOptions, sessionName, socketPath string) (*launchResult, error) {
	cmd := exec.Command(opts.Program, opts.Arguments...)
	cmd.Env = buildChildEnv(opts.SetEnv, opts.UnsetEnv, sessionName, socketPath)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: defaultCols, Rows: defaultRows})
	if err != nil {
		return nil, fmt.Errorf("launcher: pty start: %w", err)
	}
	return &launchResult{cmd: cmd, ptyMaster: ptmx}, nil
}

// buildChildEnv layers SetEnv onto a snapshot of the daemon's own
// environment, then removes every key named in UnsetEnv, then appends the
// two MonoMux-injected variables last so they can never be shadowed by a
// caller's overlay.
func buildChildEnv(setEnv map[string]string, unsetEnv []string, sessionName, socketPath string) []string {
	base := os.Environ()
	unset := make(map[string]bool, len(unsetEnv))
	for _, k := range unsetEnv {
		unset[k] = true
	}

	merged := make(map[string]string, len(base)+len(setEnv))
	for _, kv := range base {
		k, v, ok := splitEnv(kv)
		if !ok {
			continue
		}
		merged[k] = v
	}
	for k, v := range setEnv {
		merged[k] = v
	}
	for k := range unset {
		delete(merged, k)
	}
	merged["MONOMUX_SESSION"] = sessionName
	merged["MONOMUX_SOCKET"] = socketPath

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

func splitEnv(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

// signalProcessGroup sends sig to the child's entire process group by
// negating the PID, rather than just the immediate child — a shell
// session's own children (pagers, subshells) need the same signal on
// teardown.
func signalProcessGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	return unix.Kill(-pid, sig)
}
