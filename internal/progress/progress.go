package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Func receives a label and a percentage in [0, 100]
type Func func(label string, percent int)

// Tracker aggregates the progress of a batch of files transferred in parallel.
// Reported percentages never decrease.
type Tracker struct {
	fn       Func
	verb     string
	interval time.Duration

	mu         sync.Mutex
	filesTotal int
	bytesTotal int64
	filesDone  int
	bytesDone  int64
	last       time.Time
	start      time.Time

	// emitMu serializes callbacks so percentages arrive in order
	emitMu  sync.Mutex
	emitted int
}

// NewTracker creates a tracker for a batch; verb prefixes labels ("Downloading")
func NewTracker(fn Func, verb string, filesTotal int, bytesTotal int64, interval time.Duration) *Tracker {
	return &Tracker{
		fn:         fn,
		verb:       verb,
		interval:   interval,
		filesTotal: filesTotal,
		bytesTotal: bytesTotal,
		start:      time.Now(),
	}
}

// Add credits transferred bytes; reports at most once per interval
func (t *Tracker) Add(n int64) {
	t.mu.Lock()
	t.bytesDone += n
	if time.Since(t.last) < t.interval {
		t.mu.Unlock()
		return
	}
	t.last = time.Now()
	label, percent := t.snapshot()
	t.mu.Unlock()

	t.emit(label, percent)
}

// FileDone marks one file finished. counted is what Add already credited
// for it; the remainder of size is credited now.
func (t *Tracker) FileDone(size, counted int64) {
	t.mu.Lock()
	t.filesDone++
	if rest := size - counted; rest > 0 {
		t.bytesDone += rest
	}
	t.last = time.Now()
	label, percent := t.snapshot()
	t.mu.Unlock()

	t.emit(label, percent)
}

// Report emits the current state with a custom label
func (t *Tracker) Report(label string) {
	t.mu.Lock()
	_, percent := t.snapshot()
	t.mu.Unlock()

	t.emit(label, percent)
}

// Percent returns the last reported percentage
func (t *Tracker) Percent() int {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	return t.emitted
}

// snapshot must be called with mu held
func (t *Tracker) snapshot() (string, int) {
	// Files count as one unit each so empty files still move the bar
	percent := Percent(t.bytesDone+int64(t.filesDone), t.bytesTotal+int64(t.filesTotal))
	label := fmt.Sprintf("%s %d of %d files (%s of %s)", t.verb, t.filesDone, t.filesTotal,
		FormatBytes(t.bytesDone), FormatBytes(t.bytesTotal))
	if elapsed := time.Since(t.start).Seconds(); elapsed > 0 && t.bytesDone > 0 {
		label += ", " + FormatSpeed(float64(t.bytesDone)/elapsed)
	}
	return label, percent
}

func (t *Tracker) emit(label string, percent int) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	if percent < t.emitted {
		percent = t.emitted
	}
	t.emitted = percent
	if t.fn != nil {
		t.fn(label, percent)
	}
}

// Reader wraps an io.Reader and credits every read to a tracker
type Reader struct {
	reader  io.Reader
	tracker *Tracker
	n       int64
}

// NewReader creates a new progress-tracking reader
func NewReader(r io.Reader, t *Tracker) *Reader {
	return &Reader{reader: r, tracker: t}
}

// Read implements io.Reader
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.n += int64(n)
		if r.tracker != nil {
			r.tracker.Add(int64(n))
		}
	}
	return n, err
}

// N returns the number of bytes read so far
func (r *Reader) N() int64 {
	return r.n
}

// Percent converts done/total into a percentage clamped to [0, 100].
// An empty total is complete.
func Percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	if done <= 0 {
		return 0
	}
	p := int(done * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatSpeed formats bytes per second into human-readable string
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}

// FormatProgress returns a progress bar string
func FormatProgress(current, total int64, width int) string {
	if total == 0 {
		return ""
	}

	percent := float64(current) / float64(total)
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}

	bar := make([]byte, width)
	for i := 0; i < width; i++ {
		if i < filled {
			bar[i] = '='
		} else if i == filled {
			bar[i] = '>'
		} else {
			bar[i] = ' '
		}
	}

	return fmt.Sprintf("[%s] %5.1f%%", string(bar), percent*100)
}
