package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// confirmer asks the user before a tool runs.
// The tools of one turn run concurrently, the questions are asked one by one.
type confirmer struct {
	lock sync.Mutex
	in   *bufio.Scanner
	out  io.Writer
}

func newConfirmer(in *bufio.Scanner, out io.Writer) *confirmer {
	return &confirmer{in: in, out: out}
}

// Confirm returns true if the user answers y or yes
func (c *confirmer) Confirm(_ context.Context, name string, args map[string]any) (bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	js, err := json.Marshal(args)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal arguments")
	}
	warnColor.Fprintf(c.out, "AI wants to use tool: %s with args: %s\n", name, js)
	fmt.Fprint(c.out, "Allow this action? [y/N] ")

	if !c.in.Scan() {
		if err = c.in.Err(); err != nil {
			return false, errors.Wrap(err, "failed to read confirmation")
		}
		fmt.Fprintln(c.out)
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(c.in.Text())) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
