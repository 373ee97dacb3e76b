// Package source adapts the outside world to the heartbeat pipeline: BPM
// values typed on stdin or written to a unix socket, and voltage samples from
// NATS or a simulated pulse sensor.
package source

import (
	"fmt"
	"strconv"
	"strings"
)

// parseBPM reads one BPM line. Blank lines are reported with ok false.
func parseBPM(line string) (bpm float64, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, false, nil
	}
	bpm, err = strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse bpm %q: %w", line, err)
	}
	return bpm, true, nil
}
