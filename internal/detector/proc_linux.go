//go:build linux

package detector

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/tklauser/go-sysconf"
)

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err != nil && !errors.Is(err, syscall.EPERM) {
		return false
	}
	// An exited child that nobody reaped yet still answers signal 0.
	state, _, ok := readStat(pid)
	if ok && (state == 'Z' || state == 'X') {
		return false
	}
	return true
}

// readStat extracts the state (field 3) and starttime (field 22, clock ticks
// since boot) from /proc/<pid>/stat.
func readStat(pid int) (byte, int64, bool) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, 0, false
	}
	line := string(b)
	// comm is wrapped in parentheses and may itself contain spaces or ')'
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0, 0, false
	}
	fields := strings.Fields(line[end+2:])
	if len(fields) < 20 || len(fields[0]) == 0 {
		return 0, 0, false
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return fields[0][0], 0, true
	}
	return fields[0][0], ticks, true
}

func procStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	_, ticks, ok := readStat(pid)
	if !ok || ticks <= 0 {
		return 0
	}
	boot := bootTime()
	if boot == 0 {
		return 0
	}
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return boot + ticks/clk
}

// bootTime reads btime from /proc/stat.
func bootTime() int64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
			bt, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return 0
			}
			return bt
		}
	}
	return 0
}
