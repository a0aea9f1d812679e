package initapp

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, level)

	level, err = ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, level)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestInitReadsLevel(t *testing.T) {
	t.Setenv(LogLevelEnv, "warn")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, Init())
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	t.Setenv(LogLevelEnv, "nonsense")
	require.NoError(t, Init())
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}
