package app

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

const (
	spinnerCharSet = 14
	spinnerRate    = 120 * time.Millisecond
)

// phaseProgress reports the run command's phases: an animated spinner when
// stdout is a terminal, a plain line per phase otherwise, since a spinner's
// carriage-return redraws are meaningless once piped to a file or CI log.
type phaseProgress struct {
	quiet bool
	tty   bool
	s     *spinner.Spinner
}

func newPhaseProgress(quiet bool) *phaseProgress {
	return &phaseProgress{
		quiet: quiet,
		tty:   term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (p *phaseProgress) start(label string) {
	if p.quiet {
		return
	}
	if !p.tty {
		fmt.Println(label + "...")
		return
	}
	p.s = spinner.New(spinner.CharSets[spinnerCharSet], spinnerRate)
	p.s.Suffix = " " + label
	p.s.Start()
}

func (p *phaseProgress) stop(result string) {
	if p.quiet {
		return
	}
	if p.s != nil {
		p.s.Stop()
		p.s = nil
	}
	fmt.Println(result)
}

func (p *phaseProgress) fail() {
	if p.quiet {
		return
	}
	if p.s != nil {
		p.s.Stop()
		p.s = nil
	}
}
