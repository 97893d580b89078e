/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dispatch/log"
)

func TestRecorder(t *testing.T) {
	recorder := NewRecorder()
	logger := recorder.With(log.String("route", "/echo"))

	logger.Info("dispatched", log.Int("status", 200))
	logger.Errorf("handler %q failed", "/echo")
	logger.WithLevel(log.LevelWarn).Info("filtered")
	recorder.Warn("dispatched", log.Error(errors.New("late")))

	require.Len(t, recorder.Entries(), 3)

	entry, found := recorder.FindEntry("dispatched")
	require.True(t, found)
	require.Equal(t, log.LevelInfo, entry.Level)
	require.Equal(t, "/echo", entry.StringField("route"))
	statusField, found := entry.FindField("status")
	require.True(t, found)
	require.EqualValues(t, 200, statusField.Int)

	require.Len(t, recorder.FindAllEntries("dispatched"), 2)
	require.Len(t, recorder.EntriesAtLevel(log.LevelError), 1)
	_, found = recorder.FindEntry("filtered")
	require.False(t, found)

	recorder.Reset()
	require.Empty(t, recorder.Entries())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Opts{Output: &buf, Level: log.LevelInfo})
	logger.Debug("hidden")
	logger.Info("visible", log.String("session", "c1"))
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"session":"c1"`)
}
