package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_Defaults(t *testing.T) {
	logger, err := Setup(Options{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestSetup_InvalidLevel(t *testing.T) {
	_, err := Setup(Options{Level: "loud"})
	require.Error(t, err)
}

func TestSetup_JSONCarriesRunFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Level: "debug", JSON: true, Output: &buf})
	require.NoError(t, err)

	ForRun(logger, "vm").Debug("state change")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "vm", entry["component"])
	assert.Equal(t, "state change", entry["msg"])
	assert.NotEmpty(t, entry["run_id"])
}

func TestForRun_UniqueIDs(t *testing.T) {
	logger, err := Setup(Options{})
	require.NoError(t, err)

	a := ForRun(logger, "vm").Data["run_id"]
	b := ForRun(logger, "vm").Data["run_id"]
	assert.NotEqual(t, a, b)
}

func TestDiscard(t *testing.T) {
	entry := Discard()
	entry.Info("dropped") // must not panic or print
	assert.NotNil(t, entry.Logger)
}
