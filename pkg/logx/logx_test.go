package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetMinLevelFiltersBelowThreshold(t *testing.T) {
	defer SetMinLevel("info")

	SetMinLevel("warn")
	l := New("logx-test-warn-filter")
	l.Info("this should not appear")
	l.Warn("this should appear")

	entries := RecentEntries("logx-test-warn-filter")
	assert.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0].Level)
}

func TestSetMinLevelIgnoresUnrecognizedValue(t *testing.T) {
	defer SetMinLevel("info")

	SetMinLevel("warn")
	SetMinLevel("not-a-level")
	l := New("logx-test-unrecognized")
	l.Info("still filtered because the bad value was ignored")

	assert.Empty(t, RecentEntries("logx-test-unrecognized"))
}

func TestSetMinLevelErrorOnlyDropsInfoAndWarn(t *testing.T) {
	defer SetMinLevel("info")

	SetMinLevel("error")
	l := New("logx-test-error-only")
	l.Info("dropped")
	l.Warn("dropped")
	l.Error("kept")

	entries := RecentEntries("logx-test-error-only")
	assert.Len(t, entries, 1)
	assert.Equal(t, "ERROR", entries[0].Level)
}

func TestDefaultMinLevelAllowsInfoAndAbove(t *testing.T) {
	defer SetMinLevel("info")

	SetMinLevel("info")
	l := New("logx-test-default")
	l.Info("kept")
	l.Warn("kept")
	l.Error("kept")

	assert.Len(t, RecentEntries("logx-test-default"), 3)
}
