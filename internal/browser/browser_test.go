package browser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingOpener(urls *[]string, err error) *SystemOpener {
	return &SystemOpener{
		openURL: func(url string) error {
			*urls = append(*urls, url)
			return err
		},
	}
}

func TestOpen_HandsURLToBrowser(t *testing.T) {
	var urls []string
	o := recordingOpener(&urls, nil)

	require.NoError(t, o.Open("https://app.testfairy.com/builds/42"))
	assert.Equal(t, []string{"https://app.testfairy.com/builds/42"}, urls)
}

func TestOpen_ShortURLIgnored(t *testing.T) {
	var urls []string
	o := recordingOpener(&urls, nil)

	require.NoError(t, o.Open("http"))
	require.NoError(t, o.Open(""))
	assert.Empty(t, urls)
}

func TestOpen_LaunchError(t *testing.T) {
	var urls []string
	o := recordingOpener(&urls, errors.New("no browser"))

	err := o.Open("https://app.testfairy.com/builds/42")
	assert.ErrorContains(t, err, "no browser")
	assert.ErrorContains(t, err, "https://app.testfairy.com/builds/42")
}

func TestNewOpener(t *testing.T) {
	o := NewOpener()
	require.NotNil(t, o)
	assert.Nil(t, o.openURL)

	var _ Opener = o
}
