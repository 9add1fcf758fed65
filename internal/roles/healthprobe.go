package roles

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/arkaledge/orchestrator/internal/agentruntime"
	"github.com/arkaledge/orchestrator/internal/watchdog"
)

// HealthProbeSystemPrompt and HealthProbePrompt together form the fixed
// probe exchange spec.md §4.10 names: a trivial round trip that only
// checks the backend is alive and responsive, never the quality of its
// work.
const HealthProbeSystemPrompt = `You are responding to a liveness check, not a task. Reply with exactly the text HEALTH_OK and nothing else.`
const HealthProbePrompt = `HEALTH_OK`

const (
	healthProbeIdleTimeout  = 25 * time.Second
	healthProbeTotalTimeout = 40 * time.Second
)

// unhealthyPatterns flags transcripts that came back but indicate the
// backend itself is in a bad state, distinct from simply timing out.
var unhealthyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)panic:`),
	regexp.MustCompile(`(?i)rate limit`),
	regexp.MustCompile(`(?i)unauthorized`),
	regexp.MustCompile(`(?i)connection refused`),
	regexp.MustCompile(`(?i)out of memory`),
}

// HealthProbe runs the fixed liveness prompt against runtime under the
// watchdog's probe deadlines and classifies the reply. A reply that never
// arrives (idle/total timeout) or that matches an unhealthy pattern counts
// as unhealthy; only a reply that contains HEALTH_OK and matches no
// unhealthy pattern counts as healthy.
func HealthProbe(ctx context.Context, runtime agentruntime.Runtime) (healthy bool, reason string) {
	stream, err := runtime.Run(ctx, HealthProbePrompt, agentruntime.Options{SystemPrompt: HealthProbeSystemPrompt})
	if err != nil {
		return false, fmt.Sprintf("backend error: %v", err)
	}

	watched, errc := watchdog.Watch(ctx, stream, healthProbeIdleTimeout, healthProbeTotalTimeout)

	var text strings.Builder
	for msg := range watched {
		text.WriteString(msg.Content)
	}
	if err := <-errc; err != nil {
		runtime.Abort()
		var to *watchdog.Timeout
		if asTimeout(err, &to) {
			return false, fmt.Sprintf("health probe timeout: %s", to.Error())
		}
		return false, err.Error()
	}

	reply := text.String()
	for _, pat := range unhealthyPatterns {
		if m := pat.FindString(reply); m != "" {
			return false, fmt.Sprintf("unhealthy pattern matched: %s", m)
		}
	}
	if !strings.Contains(reply, "HEALTH_OK") {
		return false, "probe did not reply HEALTH_OK"
	}
	return true, ""
}
