package observability

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	ansiReset   = "\033[0m"
	ansiPurple  = "\033[35m"
	ansiCyan    = "\033[96m"
	ansiMagenta = "\033[95m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}

// termMu serialises terminal output so a log write never lands between the
// cursor save and restore of the status line.
var termMu sync.Mutex

var dashboard struct {
	frame int
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type termWriter struct{}

func (termWriter) Write(p []byte) (int, error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer for log.SetOutput that never interleaves
// with PrintLiveStatus.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

const bannerArt = `
    ___   __  ____________  ____  ________    ____  ______
   /   | / / / /_  __/ __ \/ __ \/  _/ /   / __ \/_  __/
  / /| |/ / / / / / / / / / /_/ // // /   / / / / / /
 / ___ / /_/ / / / / /_/ / ____// // /___/ /_/ / / /
/_/  |_\____/ /_/  \____/_/   /___/_____/\____/ /_/

        >> PLAN . APPROVE . EXECUTE . VALIDATE <<
`

// PrintBanner clears the screen and centres the logo.
func PrintBanner() {
	fmt.Print("\033[2J\033[H")
	width := termWidth()
	for _, l := range strings.Split(bannerArt, "\n") {
		pad := max((width-len(l))/2, 0)
		fmt.Printf("%s%s%s%s\n", strings.Repeat(" ", pad), ansiCyan, l, ansiReset)
	}
}

// InitializeTerminal keeps lines 1-11 for the logo and the status line and
// scrolls logs from line 12 down.
func InitializeTerminal() {
	fmt.Print("\033[12;r")
	fmt.Print("\033[12;1H")
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// PrintLiveStatus redraws the status line on row 10.
func PrintLiveStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	termMu.Lock()
	defer termMu.Unlock()
	line := renderStatus(GetStatus(), m, time.Now(), dashboard.frame)
	dashboard.frame++
	fmt.Print("\033[s\033[10;1H\033[K" + line + "\033[u")
}

// heartbeatHealth grades how long ago the last heartbeat was.
func heartbeatHealth(since time.Duration) (icon, label, color string) {
	switch {
	case since < 40*time.Second:
		return "🟢", "HEALTHY", ansiCyan
	case since < 90*time.Second:
		return "🟡", "LAGGING", ansiPurple
	default:
		return "🔴", "OFFLINE", ansiMagenta
	}
}

func stageStyle(stage Stage) (icon, color string) {
	switch stage {
	case StageIdle:
		return "💤", ansiReset
	case "AWAITING_APPROVAL":
		return "⏸️", ansiPurple
	case "FAILED", "CANCELLED":
		return "⛔", ansiMagenta
	default:
		return "🛰️", ansiCyan
	}
}

// renderStatus builds the status line without cursor control.
func renderStatus(snap Snapshot, m runtime.MemStats, now time.Time, frame int) string {
	hbIcon, hbLabel, hbColor := heartbeatHealth(now.Sub(snap.LastHeartbeat))
	icon, stageColor := stageStyle(snap.Stage)

	radar := " "
	if snap.Stage != StageIdle {
		radar = radarFrames[frame%len(radarFrames)]
	}

	progress := "-/-"
	if snap.TotalSteps > 0 {
		progress = fmt.Sprintf("%d/%d", snap.CompletedSteps, snap.TotalSteps)
	}

	task := snap.Task
	if task == "" {
		task = "Waiting..."
	}
	if len(task) > 25 {
		task = Clip(task, 22) + "..."
	}

	allocMB := float64(m.Alloc) / 1024 / 1024
	var share float64
	if m.Sys > 0 {
		share = float64(m.Alloc) / float64(m.Sys)
	}
	const barWidth = 20
	filled := clamp(int(share*barWidth), 0, barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", barWidth-filled)
	barColor := ansiCyan
	if share > 0.7 {
		barColor = ansiMagenta
	}

	return fmt.Sprintf("[%s] %s%s %-10s%s | %s[%s %-17s]%s [%s] [%s] %s%s%s [%v] [%s%s %.1fMB%s]",
		snap.LastHeartbeat.Format("15:04:05"),
		hbColor, hbIcon, hbLabel, ansiReset,
		stageColor, icon, snap.Stage, ansiReset,
		task, progress,
		ansiPurple, radar, ansiReset,
		now.Sub(startTime).Round(time.Second),
		barColor, bar, allocMB, ansiReset,
	)
}
