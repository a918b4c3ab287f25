package fs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadListFile reads a line-oriented list such as a host's filesystems file.
// Lines are trimmed; blank lines and lines starting with '#' are skipped.
func ReadListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening list file: %w", err)
	}
	defer f.Close()

	lines, err := ParseList(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}

// ParseList returns the meaningful lines of r.
func ParseList(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
