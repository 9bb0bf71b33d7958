package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", NormalizeLevel("debug"))
	assert.Equal(t, "WARN", NormalizeLevel(" warn "))
	assert.Equal(t, "INFO", NormalizeLevel(""))
	assert.Equal(t, "INFO", NormalizeLevel("verbose"))
}

func TestLevelFiltering(t *testing.T) {
	var app, proxy, errs bytes.Buffer
	InitWriters(&app, &proxy, &errs, "INFO")
	t.Cleanup(CloseLogFiles)

	Debug("hidden %d", 1)
	Info("shown %d", 2)
	ProxyDebug("hidden proxy")
	ProxyInfo("shown proxy")
	Error("boom")

	assert.NotContains(t, app.String(), "hidden")
	assert.Contains(t, app.String(), "shown 2")
	assert.NotContains(t, proxy.String(), "hidden proxy")
	assert.Contains(t, proxy.String(), "shown proxy")
	assert.Contains(t, errs.String(), "boom")
}

func TestWarnRespectsLevel(t *testing.T) {
	var app bytes.Buffer
	InitWriters(&app, &bytes.Buffer{}, &bytes.Buffer{}, "ERROR")
	t.Cleanup(CloseLogFiles)

	Warn("quiet")
	Info("quiet too")
	assert.Empty(t, app.String())
}

func TestInitGlobalLoggersCreatesFiles(t *testing.T) {
	dir := t.TempDir()
	appPath := filepath.Join(dir, "logs", "app.log")
	proxyPath := filepath.Join(dir, "logs", "proxy.log")

	require.NoError(t, InitGlobalLoggers(appPath, proxyPath, "debug"))
	Info("hello app")
	ProxyInfo("hello proxy")
	CloseLogFiles()

	appData, err := os.ReadFile(appPath)
	require.NoError(t, err)
	assert.Contains(t, string(appData), "hello app")

	proxyData, err := os.ReadFile(proxyPath)
	require.NoError(t, err)
	assert.Contains(t, string(proxyData), "hello proxy")
	assert.Equal(t, "DEBUG", Level())
}
