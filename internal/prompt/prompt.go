// Package prompt implements the one-time interactive job/set selection
// gate. Unattended runs must never hang here: a missing terminal or an
// expired deadline both resolve to "run nothing".
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/hfischer/go7zbackup/internal/resolve"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// DefaultTimeout is how long the menu waits for input before quitting.
const DefaultTimeout = 60 * time.Second

// DetectRunMode derives the run mode from the flags and the terminal,
// instead of consulting ambient global state.
func DetectRunMode(quiet, nonInteractive bool) models.RunMode {
	switch {
	case quiet:
		return models.RunModeQuiet
	case nonInteractive:
		return models.RunModeNonInteractive
	case isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()):
		return models.RunModeInteractive
	default:
		return models.RunModeNonInteractive
	}
}

// Menu is a console prompter over an arbitrary reader/writer pair.
type Menu struct {
	in      io.Reader
	out     io.Writer
	timeout time.Duration
	logger  zerolog.Logger
}

// NewMenu creates a console menu reading stdin and writing stdout.
func NewMenu(logger zerolog.Logger) *Menu {
	return &Menu{in: os.Stdin, out: os.Stdout, timeout: DefaultTimeout, logger: logger}
}

// NewMenuWithIO creates a menu with custom streams and timeout (for testing).
func NewMenuWithIO(logger zerolog.Logger, in io.Reader, out io.Writer, timeout time.Duration) *Menu {
	return &Menu{in: in, out: out, timeout: timeout, logger: logger}
}

// Select presents jobs and sets as one numbered menu and reads a
// comma-separated multi-selection. An empty answer, "q" or a timeout all
// mean no selection.
func (m *Menu) Select(jobs, sets []string) ([]resolve.Selection, error) {
	entries := make([]resolve.Selection, 0, len(jobs)+len(sets))
	for _, j := range jobs {
		entries = append(entries, resolve.Selection{Name: j})
	}
	for _, s := range sets {
		entries = append(entries, resolve.Selection{Name: s, IsSet: true})
	}

	fmt.Fprintln(m.out, "Select what to run:")
	for i, e := range entries {
		kind := "job"
		if e.IsSet {
			kind = "set"
		}
		fmt.Fprintf(m.out, "  %2d) %-30s [%s]\n", i+1, e.Name, kind)
	}
	fmt.Fprintf(m.out, "Enter numbers (comma-separated), or q to quit [%s timeout]: ", m.timeout)

	line, err := m.readLine()
	if err != nil {
		return nil, err
	}

	line = strings.TrimSpace(line)
	if line == "" || strings.EqualFold(line, "q") {
		return nil, nil
	}

	var selected []resolve.Selection
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 || n > len(entries) {
			return nil, fmt.Errorf("invalid selection %q", part)
		}
		selected = append(selected, entries[n-1])
	}

	return selected, nil
}

// readLine reads one line but gives up after the timeout so scheduled runs
// without an operator terminate deterministically.
func (m *Menu) readLine() (string, error) {
	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)

	go func() {
		reader := bufio.NewReader(m.in)
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			ch <- answer{err: err}
			return
		}
		ch <- answer{line: line}
	}()

	select {
	case a := <-ch:
		return a.line, a.err
	case <-time.After(m.timeout):
		fmt.Fprintln(m.out)
		m.logger.Warn().Dur("timeout", m.timeout).Msg("selection timed out, quitting")
		return "", nil
	}
}
