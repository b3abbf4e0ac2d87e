package prompt

import (
	"errors"
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tfupload/internal/buildfile"
)

func TestValidateAPIKey(t *testing.T) {
	assert.NoError(t, ValidateAPIKey("abc123"))
	assert.NoError(t, ValidateAPIKey("  abc123  "))
	assert.Error(t, ValidateAPIKey(""))
	assert.Error(t, ValidateAPIKey("   "))
	assert.Error(t, ValidateAPIKey("abc 123"))
	assert.Error(t, ValidateAPIKey(`abc"123`))
	assert.ErrorIs(t, ValidateAPIKey("abc$1def"), buildfile.ErrInvalidKey)
}

func TestIsCancel(t *testing.T) {
	assert.True(t, isCancel(promptui.ErrInterrupt))
	assert.True(t, isCancel(promptui.ErrEOF))
	assert.True(t, isCancel(promptui.ErrAbort))
	assert.False(t, isCancel(errors.New("tty gone")))
}

func TestTerminal_SelectTaskEmpty(t *testing.T) {
	idx, err := (&Terminal{}).SelectTask(nil)
	require.NoError(t, err)
	assert.Equal(t, Canceled, idx)
}

func TestScripted(t *testing.T) {
	var p Prompter = &Scripted{Task: 1, Key: "abc", OpenBrowser: true}

	idx, err := p.SelectTask([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	key, err := p.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "abc", key)

	open, err := p.ConfirmOpenBrowser("https://app.testfairy.com/builds/1")
	require.NoError(t, err)
	assert.True(t, open)
}

func TestScripted_OutOfRangeIsCanceled(t *testing.T) {
	p := &Scripted{Task: 5}
	idx, err := p.SelectTask([]string{"a"})
	require.NoError(t, err)
	assert.Equal(t, Canceled, idx)

	_, err = p.APIKey()
	assert.ErrorIs(t, err, ErrCanceled)
}
