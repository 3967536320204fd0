package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Loop detection thresholds: identical call+result pairs trigger a
// warning injected into the history, then a hard stop.
const (
	loopWarnAfter     = 3
	loopCriticalAfter = 5
)

// toolLoopState detects repeated no-progress tool calls: the same tool
// invoked with the same arguments yielding the same result. One state
// per frame lifetime.
type toolLoopState struct {
	lastKey    string
	lastResult string
	repeats    int
}

// callKey fingerprints a tool call by name and serialized arguments.
func callKey(name string, args map[string]any) string {
	data, _ := json.Marshal(args)
	sum := sha256.Sum256(append([]byte(name+"\x00"), data...))
	return hex.EncodeToString(sum[:8])
}

// observe records one call+result pair and returns a severity:
// "" (fine), "warning", or "critical".
func (s *toolLoopState) observe(name string, args map[string]any, result string) (level, msg string) {
	key := callKey(name, args)
	if key != s.lastKey || result != s.lastResult {
		s.lastKey = key
		s.lastResult = result
		s.repeats = 1
		return "", ""
	}

	s.repeats++
	switch {
	case s.repeats >= loopCriticalAfter:
		return "critical", fmt.Sprintf(
			"Tool %s has returned the identical result %d times in a row.", name, s.repeats)
	case s.repeats >= loopWarnAfter:
		return "warning", fmt.Sprintf(
			"You have called %s with the same arguments %d times and received the same result. "+
				"Change your approach instead of repeating the call.", name, s.repeats)
	}
	return "", ""
}
