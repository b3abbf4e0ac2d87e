// Package buildfile declares the TestFairy Gradle plugin and API key in an
// Android module's build script.
package buildfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/google/renameio/v2"
)

// PluginLine is the plugin-apply directive inserted into the build script.
const PluginLine = "apply plugin: 'testfairy'"

const configBlockName = "testfairyConfig"

var (
	// ErrBuildFileNotFound is returned when the module build script does not exist.
	ErrBuildFileNotFound = errors.New("android module build file not found")
	// ErrInvalidKey is returned for keys that cannot be written as a Groovy string literal.
	ErrInvalidKey = errors.New("API key must be non-empty and contain no whitespace, quotes, backslashes or '$'")
)

var (
	pluginRe      = regexp.MustCompile(`(?m)^[ \t]*apply[ \t]+plugin:[ \t]*['"]testfairy['"][ \t]*\r?$`)
	applyRe       = regexp.MustCompile(`(?m)^[ \t]*apply[ \t]+plugin:.*$`)
	configBlockRe = regexp.MustCompile(`(?m)^[ \t]*` + configBlockName + `[ \t]*\{`)
	apiKeyRe      = regexp.MustCompile(`(?m)^([ \t]*apiKey(?:[ \t]*=[ \t]*|[ \t]+))["']([^"'\r\n]*)["']`)
)

// ValidKey reports whether key looks like an API key that can be patched in.
// '$' is rejected because Groovy interpolates it inside double quotes.
func ValidKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, " \t\r\n\"'\\$")
}

// Patch ensures the build script at path applies the TestFairy plugin and
// declares key. Calling it again with the same key leaves the file untouched.
func Patch(path, key string) error {
	data, mode, err := read(path)
	if err != nil {
		return err
	}

	patched, err := Render(string(data), key)
	if err != nil {
		return err
	}
	if patched == string(data) {
		return nil
	}

	if err := renameio.WriteFile(path, []byte(patched), mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Render returns content with the plugin directive and key declaration in place.
// Unrelated content is preserved byte for byte.
func Render(content, key string) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}

	if !pluginRe.MatchString(content) {
		content = insertPlugin(content)
	}

	start, end, ok := configBlock(content)
	if !ok {
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += fmt.Sprintf("\n%s {\n    apiKey \"%s\"\n}\n", configBlockName, key)
		return content, nil
	}

	block := content[start:end]
	if apiKeyRe.MatchString(block) {
		block = apiKeyRe.ReplaceAllStringFunc(block, func(line string) string {
			return apiKeyRe.FindStringSubmatch(line)[1] + `"` + key + `"`
		})
	} else {
		open := strings.IndexByte(block, '{') + 1
		block = block[:open] + fmt.Sprintf("\n    apiKey \"%s\"", key) + block[open:]
	}
	return content[:start] + block + content[end:], nil
}

// IsPatched reports whether the build script applies the plugin and declares
// a valid-looking key.
func IsPatched(path string) (bool, error) {
	data, _, err := read(path)
	if err != nil {
		return false, err
	}
	content := string(data)
	if !pluginRe.MatchString(content) {
		return false, nil
	}
	key, ok := apiKey(content)
	return ok && ValidKey(key), nil
}

// APIKey returns the key declared in the build script, if any.
func APIKey(path string) (string, bool, error) {
	data, _, err := read(path)
	if err != nil {
		return "", false, err
	}
	key, ok := apiKey(string(data))
	return key, ok, nil
}

func apiKey(content string) (string, bool) {
	start, end, ok := configBlock(content)
	if !ok {
		return "", false
	}
	m := apiKeyRe.FindStringSubmatch(content[start:end])
	if m == nil {
		return "", false
	}
	return m[2], true
}

func read(path string) ([]byte, fs.FileMode, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: %s", ErrBuildFileNotFound, path)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	return data, info.Mode().Perm(), nil
}

// insertPlugin adds PluginLine after the last existing apply directive, or at
// the top of the file when there is none.
func insertPlugin(content string) string {
	locs := applyRe.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return PluginLine + "\n" + content
	}
	end := locs[len(locs)-1][1]
	eol := "\n"
	if end > 0 && content[end-1] == '\r' {
		end--
		eol = "\r\n"
	}
	return content[:end] + eol + PluginLine + content[end:]
}

// configBlock returns the byte range of the testfairyConfig block, from the
// start of its line through the matching closing brace.
func configBlock(content string) (int, int, bool) {
	loc := configBlockRe.FindStringIndex(content)
	if loc == nil {
		return 0, 0, false
	}
	depth := 0
	for i := loc[1] - 1; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return loc[0], i + 1, true
			}
		}
	}
	return loc[0], len(content), true
}
