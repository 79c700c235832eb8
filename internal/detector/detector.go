// Package detector answers whether an OS process is still alive.
package detector

// Prober reports whether a process id names a live process.
// A missing process is a normal false result, never an error.
// It must be safe for concurrent use and must not block.
type Prober interface {
	IsAlive(pid int) bool
}

// StartTimer is implemented by probers that can report when a process started,
// which lets callers tell a recycled pid apart from the process they launched.
type StartTimer interface {
	// StartUnix returns the process start time in Unix seconds, or 0 when unknown.
	StartUnix(pid int) int64
}

// ProcProber inspects the OS process table.
type ProcProber struct{}

func (ProcProber) IsAlive(pid int) bool { return pidAlive(pid) }

func (ProcProber) StartUnix(pid int) int64 { return procStartUnix(pid) }

// SameProcess reports whether pid is alive and, when recorded is non-zero and the
// prober can tell, still the process that started at recorded.
func SameProcess(p Prober, pid int, recorded int64) bool {
	if !p.IsAlive(pid) {
		return false
	}
	if recorded <= 0 {
		return true
	}
	st, ok := p.(StartTimer)
	if !ok {
		return true
	}
	cur := st.StartUnix(pid)
	// Start times derived from clock ticks can drift by one second across reads.
	if cur > 0 && (cur < recorded-1 || cur > recorded+1) {
		return false
	}
	return true
}
