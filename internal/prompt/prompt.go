// Package prompt asks the user for the API key, a task, and whether to open
// the upload in a browser.
package prompt

import (
	"errors"
	"io"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/joescharf/tfupload/internal/buildfile"
)

// Canceled is the index SelectTask returns when the user backs out.
const Canceled = -1

// ErrCanceled is returned when the user interrupts a prompt.
var ErrCanceled = errors.New("canceled")

// Prompter is the interactive surface the upload and configure flows use.
type Prompter interface {
	// SelectTask returns the chosen index into labels, or Canceled.
	SelectTask(labels []string) (int, error)
	// APIKey asks for the key with masked input.
	APIKey() (string, error)
	// ConfirmOpenBrowser asks whether url should be opened.
	ConfirmOpenBrowser(url string) (bool, error)
}

// Terminal prompts on a terminal using promptui.
type Terminal struct {
	// Stdin and Stdout override the terminal; nil uses the process streams.
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
}

// SelectTask shows a list of task labels.
func (t *Terminal) SelectTask(labels []string) (int, error) {
	if len(labels) == 0 {
		return Canceled, nil
	}
	sel := promptui.Select{
		Label:  "Select task to run",
		Items:  labels,
		Size:   10,
		Stdin:  t.Stdin,
		Stdout: t.Stdout,
	}
	idx, _, err := sel.Run()
	if err != nil {
		if isCancel(err) {
			return Canceled, nil
		}
		return Canceled, err
	}
	return idx, nil
}

// APIKey reads the key without echoing it.
func (t *Terminal) APIKey() (string, error) {
	p := promptui.Prompt{
		Label:    "TestFairy API Key",
		Mask:     '*',
		Validate: ValidateAPIKey,
		Stdin:    t.Stdin,
		Stdout:   t.Stdout,
	}
	key, err := p.Run()
	if err != nil {
		if isCancel(err) {
			return "", ErrCanceled
		}
		return "", err
	}
	return strings.TrimSpace(key), nil
}

// ConfirmOpenBrowser asks a yes/no question defaulting to yes.
func (t *Terminal) ConfirmOpenBrowser(url string) (bool, error) {
	p := promptui.Prompt{
		Label:     "Open " + url + " in browser",
		IsConfirm: true,
		Default:   "y",
		Stdin:     t.Stdin,
		Stdout:    t.Stdout,
	}
	_, err := p.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case errors.Is(err, promptui.ErrInterrupt), errors.Is(err, promptui.ErrEOF):
		return false, nil
	default:
		return false, err
	}
}

// ValidateAPIKey rejects keys the build file cannot hold.
func ValidateAPIKey(input string) error {
	if !buildfile.ValidKey(strings.TrimSpace(input)) {
		return buildfile.ErrInvalidKey
	}
	return nil
}

func isCancel(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrAbort)
}

// Scripted answers prompts from fixed values. It is used when input is
// supplied on the command line.
type Scripted struct {
	Task        int
	Key         string
	OpenBrowser bool
}

func (s *Scripted) SelectTask(labels []string) (int, error) {
	if s.Task < 0 || s.Task >= len(labels) {
		return Canceled, nil
	}
	return s.Task, nil
}

func (s *Scripted) APIKey() (string, error) {
	if s.Key == "" {
		return "", ErrCanceled
	}
	return s.Key, nil
}

func (s *Scripted) ConfirmOpenBrowser(string) (bool, error) {
	return s.OpenBrowser, nil
}
