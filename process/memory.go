package process

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MemoryRSS returns the child's resident set size in bytes, read from
// /proc. Returns an error once the process is gone.
func (h *Handle) MemoryRSS() (uint64, error) {
	return readRSS(h.cmd.Process.Pid)
}

func readRSS(pid int) (uint64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, fmt.Errorf("process: read rss: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("process: parse VmRSS %q: %w", fields[1], err)
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("process: read rss: %w", err)
	}
	return 0, fmt.Errorf("process: VmRSS not found for pid %d", pid)
}
