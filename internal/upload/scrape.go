package upload

import "strings"

// resultURLDomain appears in every URL the TestFairy plugin prints.
const resultURLDomain = ".testfairy."

// FindResultURL returns the bottom-most line of output that is a TestFairy
// URL. Later lines win because the plugin prints its summary last; this is a
// heuristic about the plugin's output, not a format guarantee.
func FindResultURL(output string) (string, bool) {
	lines := lineSplitRe.Split(output, -1)
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "http") && strings.Contains(lines[i], resultURLDomain) {
			return lines[i], true
		}
	}
	return "", false
}
