package probe

import (
	"context"

	"github.com/PentesterFlow/mcp-catalog/internal/logger"
)

// Prober probes a single endpoint candidate.
type Prober interface {
	Probe(ctx context.Context, ep Endpoint) Outcome
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, ep Endpoint) Outcome

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, ep Endpoint) Outcome {
	return f(ctx, ep)
}

// WithFallback probes candidates in order and returns the first online
// outcome. When none is online the last candidate's outcome is returned.
func WithFallback(ctx context.Context, p Prober, candidates []Endpoint, log *logger.Logger) Outcome {
	if len(candidates) == 0 {
		return Outcome{Status: StatusError, URL: MultipleSources, Error: "no candidate endpoints", Tools: []Tool{}}
	}
	if len(candidates) == 1 {
		return p.Probe(ctx, candidates[0])
	}

	log = logger.OrNop(log)
	var last Outcome
	for i, ep := range candidates {
		last = p.Probe(ctx, ep)
		if last.Online() {
			if i > 0 {
				log.WithEndpoint(ep.ID, ep.URL).WithSource(ep.Source).
					Infof("Fallback candidate %d/%d is online", i+1, len(candidates))
			}
			return last
		}
		if i < len(candidates)-1 {
			log.WithEndpoint(ep.ID, ep.URL).WithSource(ep.Source).
				Debugf("Candidate %d/%d is %s, trying next", i+1, len(candidates), last.Status)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return last
}
