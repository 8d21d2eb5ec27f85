package coreforge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/ulikunitz/xz"
)

// logEntry is one core's build log as shown in the browser.
type logEntry struct {
	family  string
	core    string
	path    string
	live    bool // raw .log still being written
	content string
}

func (l *logEntry) title() string {
	state := ""
	if l.live {
		state = " (building)"
	}
	return fmt.Sprintf("%s/%s%s", l.family, l.core, state)
}

// logBrowser is the interactive viewer over log/<family>/. Refresh
// runs on a ticker so logs of an in-flight build grow on screen.
type logBrowser struct {
	app    *tview.Application
	header *tview.TextView
	view   *tview.TextView
	footer *tview.TextView

	family string // restrict to one family when non-empty
	logs   []logEntry
	active int

	updates chan []logEntry

	// scroll bookkeeping per log path
	prevIdx      int
	prevContent  map[string]string
	shouldScroll bool
}

func runLogBrowser(family string) int {
	b := &logBrowser{
		family:      family,
		updates:     make(chan []logEntry, 4),
		prevIdx:     -1,
		prevContent: make(map[string]string),
	}

	b.app = tview.NewApplication()
	b.header = tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	b.header.SetBorder(true)
	b.header.SetTitle("coreforge logs")

	b.view = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true).
		SetChangedFunc(func() { b.app.Draw() })
	b.view.SetBorder(true)

	b.footer = tview.NewTextView().SetDynamicColors(true).SetWrap(true)
	b.footer.SetBorder(true)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(b.header, 3, 0, false).
		AddItem(b.view, 0, 1, true).
		AddItem(b.footer, 3, 0, false)

	flex.SetInputCapture(b.handleKey)

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			select {
			case b.updates <- collectLogs(b.family):
			default:
			}
		}
	}()

	go func() {
		for logs := range b.updates {
			// Keep focus on the log the user is reading across refreshes.
			var current string
			if b.active < len(b.logs) {
				current = b.logs[b.active].path
			}
			b.logs = logs
			if current != "" {
				found := false
				for i := range b.logs {
					if b.logs[i].path == current {
						b.active = i
						found = true
						break
					}
				}
				if !found && b.active >= len(b.logs) && len(b.logs) > 0 {
					b.active = len(b.logs) - 1
				}
			}
			b.app.QueueUpdateDraw(b.redraw)
		}
	}()

	b.app.SetRoot(flex, true).SetFocus(b.view)
	b.logs = collectLogs(b.family)
	b.active = 0
	b.redraw()

	if err := b.app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "log browser:", err)
		return 1
	}
	return 0
}

func (b *logBrowser) handleKey(event *tcell.EventKey) *tcell.EventKey {
	cycle := func(step int) {
		if len(b.logs) == 0 {
			return
		}
		b.active = (b.active + step + len(b.logs)) % len(b.logs)
		b.shouldScroll = true
		b.redraw()
	}

	switch event.Key() {
	case tcell.KeyCtrlQ, tcell.KeyEsc:
		b.app.Stop()
		return nil
	case tcell.KeyLeft:
		cycle(-1)
		return nil
	case tcell.KeyRight:
		cycle(1)
		return nil
	case tcell.KeyHome:
		b.view.ScrollToBeginning()
		return nil
	case tcell.KeyEnd:
		b.view.ScrollToEnd()
		return nil
	case tcell.KeyUp:
		row, _ := b.view.GetScrollOffset()
		if row > 0 {
			b.view.ScrollTo(row-1, 0)
		}
		return nil
	case tcell.KeyDown:
		row, _ := b.view.GetScrollOffset()
		b.view.ScrollTo(row+1, 0)
		return nil
	case tcell.KeyPgUp:
		row, _ := b.view.GetScrollOffset()
		if row > 10 {
			b.view.ScrollTo(row-10, 0)
		} else {
			b.view.ScrollToBeginning()
		}
		return nil
	case tcell.KeyPgDn:
		row, _ := b.view.GetScrollOffset()
		b.view.ScrollTo(row+10, 0)
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q':
			b.app.Stop()
			return nil
		case 'h':
			cycle(-1)
			return nil
		case 'l':
			cycle(1)
			return nil
		case 'd':
			if b.active < len(b.logs) {
				entry := b.logs[b.active]
				// Never delete the log of a build still running.
				if !entry.live {
					os.Remove(entry.path)
					go func() { b.updates <- collectLogs(b.family) }()
				}
			}
			return nil
		}
	}
	return event
}

func (b *logBrowser) redraw() {
	if len(b.logs) == 0 {
		b.header.SetText("[gray]No build logs found[white]")
		b.view.SetText("No build log yet. Run 'coreforge build <family>' first.")
		b.footer.SetText("[gray]q quit[white]")
		return
	}
	if b.active >= len(b.logs) {
		b.active = len(b.logs) - 1
	}
	entry := b.logs[b.active]

	b.header.SetText(fmt.Sprintf("[gray]Log %d/%d: %s[white]", b.active+1, len(b.logs), entry.title()))

	switchedTabs := b.prevIdx != b.active
	if switchedTabs {
		b.prevIdx = b.active
	}
	prev, hadPrev := b.prevContent[entry.path]
	if entry.content != prev || switchedTabs {
		row, _ := b.view.GetScrollOffset()

		// Detect bottom by attempting to scroll past it.
		wasAtBottom := false
		if !switchedTabs && hadPrev {
			b.view.ScrollTo(row+1, 0)
			newRow, _ := b.view.GetScrollOffset()
			wasAtBottom = newRow == row
			b.view.ScrollTo(row, 0)
		}

		b.view.Clear()
		// ANSIWriter translates the escape sequences the build tools
		// emit into tview color tags.
		tview.ANSIWriter(b.view).Write([]byte(entry.content))

		switch {
		case switchedTabs || b.shouldScroll:
			b.view.ScrollToEnd()
			b.shouldScroll = false
		case wasAtBottom:
			b.view.ScrollToEnd()
		case hadPrev:
			prevLines := strings.Count(prev, "\n")
			newLines := strings.Count(entry.content, "\n")
			if newLines > prevLines {
				b.view.ScrollTo(row+newLines-prevLines, 0)
			} else {
				b.view.ScrollTo(row, 0)
			}
		}
		b.prevContent[entry.path] = entry.content
	}

	hints := []string{"q quit", "←/→ or h/l switch core", "↑/↓ scroll", "Home/End jump"}
	if !entry.live {
		hints = append(hints, "d delete log")
	}
	b.footer.SetText("[gray]" + strings.Join(hints, " | ") + "[white]")
}

// collectLogs scans log/<family>/ for finished (.log.xz) and in-flight
// (.log) build logs, newest first. A raw log shadows its compressed
// predecessor for the same core.
func collectLogs(family string) []logEntry {
	pattern := filepath.Join(LogRoot, "*")
	if family != "" {
		pattern = filepath.Join(LogRoot, family)
	}

	var entries []logEntry
	seen := make(map[string]bool)
	families, _ := filepath.Glob(pattern)
	for _, famDir := range families {
		if !dirExists(famDir) {
			continue
		}
		fam := filepath.Base(famDir)

		raw, _ := filepath.Glob(filepath.Join(famDir, "*.log"))
		for _, p := range raw {
			core := strings.TrimSuffix(filepath.Base(p), ".log")
			seen[fam+"/"+core] = true
			entries = append(entries, logEntry{family: fam, core: core, path: p, live: true})
		}
		packed, _ := filepath.Glob(filepath.Join(famDir, "*.log.xz"))
		for _, p := range packed {
			core := strings.TrimSuffix(filepath.Base(p), ".log.xz")
			if seen[fam+"/"+core] {
				continue
			}
			entries = append(entries, logEntry{family: fam, core: core, path: p})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		ai, err1 := os.Stat(entries[i].path)
		aj, err2 := os.Stat(entries[j].path)
		if err1 != nil || err2 != nil {
			return entries[i].path > entries[j].path
		}
		return ai.ModTime().After(aj.ModTime())
	})

	for i := range entries {
		content, err := readLogFile(entries[i].path)
		if err != nil {
			content = fmt.Sprintf("failed to read log: %v", err)
		}
		entries[i].content = content
	}
	return entries
}

// readLogFile returns a log's full text, decompressing .xz in place.
func readLogFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".xz") {
		xzr, err := xz.NewReader(file)
		if err != nil {
			return "", err
		}
		r = xzr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
