package dispatch

// rollingWindow tracks the failure ratio over the most recent attempt
// results.
type rollingWindow struct {
	buf   []bool // true = failed attempt
	next  int
	count int
	fails int
}

func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = 20
	}
	return &rollingWindow{buf: make([]bool, size)}
}

func (w *rollingWindow) record(failed bool) {
	if w.count == len(w.buf) {
		if w.buf[w.next] {
			w.fails--
		}
	} else {
		w.count++
	}
	w.buf[w.next] = failed
	if failed {
		w.fails++
	}
	w.next = (w.next + 1) % len(w.buf)
}

// rate is the failure percentage over the recorded attempts.
func (w *rollingWindow) rate() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.fails) / float64(w.count) * 100
}

func (w *rollingWindow) samples() int { return w.count }
