package coreforge

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// colorPrinter lets helpers accept both color.Theme and color.Tag values.
type colorPrinter interface {
	Printf(format string, a ...interface{})
	Println(a ...interface{})
}

func cPrintf(p colorPrinter, format string, a ...interface{}) {
	p.Printf(format, a...)
}

func cPrintln(p colorPrinter, a ...interface{}) {
	p.Println(a...)
}

func debugf(format string, args ...interface{}) {
	if Debug {
		fmt.Fprintf(os.Stderr, "DEBUG: "+format, args...)
	}
}

// interactiveMu serializes prompts so concurrent workers cannot
// interleave questions on the same terminal.
var interactiveMu sync.Mutex

func askForConfirmation(p colorPrinter, format string, a ...interface{}) bool {
	interactiveMu.Lock()
	defer interactiveMu.Unlock()

	reader := bufio.NewReader(os.Stdin)
	for {
		cPrintf(p, format+" [Y/n]: ", a...)
		response, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(response)) {
		case "", "y", "yes":
			return true
		case "n", "no":
			return false
		}
	}
}

// scanConf reads key=value lines, skipping blanks and # comments.
// Surrounding quotes on the value are stripped.
func scanConf(r io.Reader, fn func(key, value string) error) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	info, err := in.Stat()
	if err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode())
}

// tailBuffer keeps the last limit bytes written through it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte { return t.buf }
