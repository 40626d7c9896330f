package observability

import (
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestRenderStatus(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	snap := Snapshot{
		Stage:          "EXECUTING",
		Task:           "rename every file in the project tree",
		CompletedSteps: 2,
		TotalSteps:     5,
		LastHeartbeat:  now.Add(-10 * time.Second),
	}
	mem := runtime.MemStats{Alloc: 8 << 20, Sys: 10 << 20}

	line := renderStatus(snap, mem, now, 1)
	for _, want := range []string{"[15:03:55]", "HEALTHY", "EXECUTING", "[2/5]", radarFrames[1], "8.0MB"} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected %q in status line: %q", want, line)
		}
	}
	if !strings.Contains(line, "rename every file in t...") {
		t.Errorf("Long task not shortened: %q", line)
	}
	if !strings.Contains(line, ansiMagenta+"████████████████▒▒▒▒") {
		t.Errorf("Expected a high-usage bar: %q", line)
	}
}

func TestRenderStatus_IdleAndStale(t *testing.T) {
	now := time.Now()
	snap := Snapshot{Stage: StageIdle, Task: "ñandú ñandú ñandú ñandú ñandú", LastHeartbeat: now.Add(-2 * time.Minute)}

	line := renderStatus(snap, runtime.MemStats{}, now, 3)
	if !strings.Contains(line, "OFFLINE") || !strings.Contains(line, "[-/-]") {
		t.Errorf("Unexpected idle line: %q", line)
	}
	for _, frame := range radarFrames {
		if strings.Contains(line, frame) {
			t.Errorf("Idle line shows the radar: %q", line)
		}
	}
	if !utf8.ValidString(line) {
		t.Errorf("Status line is not valid UTF-8: %q", line)
	}
}

func TestHeartbeatHealth(t *testing.T) {
	cases := map[time.Duration]string{
		time.Second:      "HEALTHY",
		time.Minute:      "LAGGING",
		10 * time.Minute: "OFFLINE",
	}
	for since, want := range cases {
		if _, label, _ := heartbeatHealth(since); label != want {
			t.Errorf("heartbeatHealth(%v) = %s, want %s", since, label, want)
		}
	}
}
