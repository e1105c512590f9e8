package logfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrStop can be returned from a ForEachLine callback to end the scan early
var ErrStop = errors.New("stop scanning")

// ForEachLine calls fn for every complete (newline-terminated) line of the
// file at path with its 1-based number and its text without the line
// terminator. A trailing fragment without a newline is still being written
// and is neither counted nor passed to fn. It returns the number of
// complete lines visited.
func ForEachLine(path string, fn func(n int, line string) error) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 64*1024)
	n := 0
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("failed to read %s at line %d: %w", path, n+1, err)
		}

		n++
		if fn == nil {
			continue
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if err := fn(n, line); err != nil {
			if errors.Is(err, ErrStop) {
				return n, nil
			}
			return n, err
		}
	}
}

// CountLines returns the number of complete lines in the file at path
func CountLines(path string) (int, error) {
	return ForEachLine(path, nil)
}
