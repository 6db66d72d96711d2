package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PentesterFlow/mcp-catalog/internal/auth"
	cerrors "github.com/PentesterFlow/mcp-catalog/internal/errors"
	chttp "github.com/PentesterFlow/mcp-catalog/internal/http"
	"github.com/PentesterFlow/mcp-catalog/internal/logger"
	"github.com/PentesterFlow/mcp-catalog/internal/ratelimit"
)

// Config holds probe engine configuration.
type Config struct {
	Timeout         time.Duration // deadline for the whole handshake
	ProtocolVersion string
	ClientInfo      ClientInfo
	HostRate        float64 // probes per second per host, 0 disables
}

// DefaultConfig returns the defaults used by the command.
func DefaultConfig() Config {
	return Config{
		Timeout:         60 * time.Second,
		ProtocolVersion: DefaultProtocolVersion,
		ClientInfo: ClientInfo{
			Name:    "mcp-catalog-crawler",
			Version: "1.0.0",
		},
	}
}

type exchangeFunc func(ctx context.Context, ep Endpoint) ([]Tool, error)

// Engine probes endpoints. It is safe for concurrent use.
type Engine struct {
	config  Config
	client  *chttp.Client
	limiter *ratelimit.Limiter
	logger  *logger.Logger
	now     func() time.Time

	transports map[Transport]exchangeFunc
}

// NewEngine creates a probe engine. A nil client gets a default pool.
func NewEngine(config Config, client *chttp.Client, log *logger.Logger) *Engine {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.ProtocolVersion == "" {
		config.ProtocolVersion = defaults.ProtocolVersion
	}
	if config.ClientInfo.Name == "" {
		config.ClientInfo = defaults.ClientInfo
	}
	if client == nil {
		client = chttp.NewClient(chttp.DefaultClientConfig())
	}

	e := &Engine{
		config: config,
		client: client,
		logger: logger.OrNop(log).WithComponent("probe"),
		now:    time.Now,
	}
	if config.HostRate > 0 {
		e.limiter = ratelimit.NewHostLimiter(config.HostRate, 1)
	}
	e.transports = map[Transport]exchangeFunc{
		TransportSSE:            e.exchangeSSE,
		TransportStreamableHTTP: e.exchangeHTTP,
	}
	return e
}

// Timeout returns the per-probe deadline.
func (e *Engine) Timeout() time.Duration {
	return e.config.Timeout
}

// Probe runs the two-step handshake against one endpoint under a single
// deadline. It never returns an error; failures are encoded in the Outcome.
func (e *Engine) Probe(ctx context.Context, ep Endpoint) (out Outcome) {
	start := e.now()
	log := e.logger.WithEndpoint(ep.ID, ep.URL)

	defer func() {
		if r := recover(); r != nil {
			out = Outcome{
				ID:     ep.ID,
				URL:    ep.URL,
				Status: StatusError,
				Error:  fmt.Sprintf("panic during probe: %v", r),
			}
		}
		out.CheckedAt = e.now().UTC()
		out.Duration = e.now().Sub(start)
	}()

	if e.limiter != nil {
		if err := e.limiter.WaitHost(ctx, ep.URL); err != nil {
			return Outcome{ID: ep.ID, URL: ep.URL, Status: StatusError, Error: err.Error()}
		}
	}

	log.WithField("transport", string(ep.Transport)).
		WithField("headers", auth.MaskHeaders(ep.Headers)).
		Debug("Probing server")

	probeCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	tools, err := e.exchange(probeCtx, ep)
	if err == nil {
		if tools == nil {
			tools = []Tool{}
		}
		return Outcome{ID: ep.ID, URL: ep.URL, Status: StatusOnline, Tools: tools}
	}

	return e.classify(ctx, probeCtx, ep, err)
}

func (e *Engine) exchange(ctx context.Context, ep Endpoint) ([]Tool, error) {
	fn, ok := e.transports[ep.Transport]
	if !ok {
		return nil, fmt.Errorf("unsupported transport %q", ep.Transport)
	}
	return fn(ctx, ep)
}

// classify maps a failed exchange. Only the probe's own deadline means
// offline; every other failure, transport timeouts included, is an error
// carrying its text.
func (e *Engine) classify(parent, probeCtx context.Context, ep Endpoint, err error) Outcome {
	out := Outcome{ID: ep.ID, URL: ep.URL, Tools: []Tool{}}

	if parent.Err() == nil && errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
		out.Status = StatusOffline
		out.Error = TimeoutMessage
		return out
	}

	out.Status = StatusError
	out.Error = err.Error()
	e.logger.WithEndpoint(ep.ID, ep.URL).
		WithField("kind", cerrors.Categorize(err, ep.URL).Kind.String()).
		Debugf("Probe failed: %v", err)
	return out
}
