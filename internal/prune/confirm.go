package prune

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Options controls how destructive steps are confirmed.
type Options struct {
	Yes    bool // assume yes, never prompt
	DryRun bool // show the plan, remove nothing
}

// Confirm asks question on out and reads the answer from in.
// DryRun always declines and Yes always accepts, without prompting.
func Confirm(opts Options, in io.Reader, out io.Writer, question string) (bool, error) {
	if opts.DryRun {
		return false, nil
	}
	if opts.Yes {
		return true, nil
	}
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	ans := strings.ToLower(strings.TrimSpace(line))
	return ans == "y" || ans == "yes", nil
}
