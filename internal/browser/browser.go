// Package browser opens URLs with the platform's default handler.
package browser

import (
	"fmt"
	"io"

	"github.com/pkg/browser"
)

// minURLLength is the shortest string worth handing to the OS.
const minURLLength = 5

// Opener opens a URL for the user.
type Opener interface {
	Open(url string) error
}

// SystemOpener hands URLs to the desktop's default browser.
type SystemOpener struct {
	// Output receives anything the launcher prints. Nil discards it.
	Output io.Writer

	openURL func(url string) error
}

// NewOpener returns an opener for the running platform.
func NewOpener() *SystemOpener {
	return &SystemOpener{}
}

// Open launches the browser. URLs shorter than five characters are ignored.
func (o *SystemOpener) Open(url string) error {
	if len(url) < minURLLength {
		return nil
	}
	open := o.openURL
	if open == nil {
		out := o.Output
		if out == nil {
			out = io.Discard
		}
		browser.Stdout = out
		browser.Stderr = out
		open = browser.OpenURL
	}
	if err := open(url); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	return nil
}
