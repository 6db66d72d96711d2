package probe

import (
	"context"

	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/PentesterFlow/mcp-catalog/internal/logger"
)

// exchangeSSE performs the handshake over the legacy SSE transport. The
// stream is closed before returning.
func (e *Engine) exchangeSSE(ctx context.Context, ep Endpoint) ([]Tool, error) {
	t, err := transport.NewSSE(ep.URL,
		transport.WithHeaders(ep.Headers),
		transport.WithHTTPClient(e.client.HTTPClient()),
		transport.WithSSELogger(transportLogger{e.logger.WithEndpoint(ep.ID, ep.URL)}),
	)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	if err := t.Start(ctx); err != nil {
		return nil, err
	}
	return e.session(t).handshake(ctx)
}

func (e *Engine) session(t transport.HTTPConnection) *session {
	return &session{
		transport: t,
		protocol:  e.config.ProtocolVersion,
		info:      e.config.ClientInfo,
	}
}

// transportLogger routes mcp-go transport messages into the probe logger
// instead of the standard library logger.
type transportLogger struct {
	log *logger.Logger
}

func (l transportLogger) Infof(format string, v ...any) {
	l.log.Debugf(format, v...)
}

func (l transportLogger) Errorf(format string, v ...any) {
	l.log.Warnf(format, v...)
}
