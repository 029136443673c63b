package stdio

import (
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

// ShutdownGracePeriod is the time given to the process to exit
// after its standard input is closed, before it is killed
var ShutdownGracePeriod = 2 * time.Second

// Command describes the server process
type Command struct {
	// Name is used in the logs
	Name    string
	Command string
	Args    []string
	// Env is added to the environment of the current process
	Env map[string]string
	Dir string
}

// Spawn starts the process and returns the transport over its standard streams.
// Closing the transport stops the process.
func Spawn(c Command) (*Transport, error) {
	if strings.TrimSpace(c.Command) == "" {
		return nil, errors.New("stdio: command is required")
	}

	cmd := exec.Command(c.Command, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(c.Env)...)
	}
	cmd.Stderr = &stderrLogger{name: c.Name}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdio: failed to create stdin pipe")
	}
	// the process output is copied into the pipe,
	// so Wait returns only after all of it is read
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	if err = cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, errors.Wrapf(err, "stdio: failed to start %q", c.Command)
	}

	logger.KV(xlog.DEBUG,
		"status", "started",
		"name", c.Name,
		"command", c.Command,
		"pid", cmd.Process.Pid,
	)

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		logger.KV(xlog.DEBUG,
			"status", "exited",
			"name", c.Name,
			"err", err,
		)
		_ = pw.CloseWithError(io.EOF)
		close(exited)
	}()

	stop := func() error {
		_ = pr.Close()
		select {
		case <-exited:
		case <-time.After(ShutdownGracePeriod):
			_ = cmd.Process.Kill()
			<-exited
		}
		return nil
	}

	return New(pr, stdin, stdin.Close, stop), nil
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

type stderrLogger struct {
	name string
}

func (l *stderrLogger) Write(p []byte) (int, error) {
	for line := range strings.SplitSeq(strings.TrimSpace(string(p)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			logger.KV(xlog.DEBUG, "name", l.name, "stderr", line)
		}
	}
	return len(p), nil
}
