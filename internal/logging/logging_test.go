package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent(t *testing.T) {
	entry := WithComponent("bank")
	assert.Equal(t, "bank", entry.Data["component"])
}

func TestNewInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"
	_, _, err := New(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Format = "xml"
	_, _, err = New(cfg)
	assert.Error(t, err)
}

func TestJSONFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.Level = "debug"
	l, c, err := New(cfg)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.WithField("component", "rpc").Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "rpc", line["component"])
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pythsim.log")
	cfg := DefaultConfig()
	cfg.Output = path

	l, c, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, c)

	l.Info("to file")
	require.NoError(t, c.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestSetup(t *testing.T) {
	defer func() { require.NoError(t, Setup(DefaultConfig())) }()

	cfg := DefaultConfig()
	cfg.Level = "warn"
	require.NoError(t, Setup(cfg))
	assert.Equal(t, logrus.WarnLevel, Logger().GetLevel())
}

func TestBadgerLoggerDemotesInfo(t *testing.T) {
	l := logrus.New()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.SetLevel(logrus.InfoLevel)

	BadgerLogger{Entry: logrus.NewEntry(l)}.Infof("compaction %d", 1)
	assert.Empty(t, buf.String())
}
