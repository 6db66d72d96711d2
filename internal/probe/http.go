package probe

import (
	"context"

	"github.com/mark3labs/mcp-go/client/transport"
)

// exchangeHTTP performs the handshake over streamable HTTP. The session id
// returned by initialize is carried on later requests by the transport.
func (e *Engine) exchangeHTTP(ctx context.Context, ep Endpoint) ([]Tool, error) {
	t, err := transport.NewStreamableHTTP(ep.URL,
		transport.WithHTTPHeaders(ep.Headers),
		transport.WithHTTPBasicClient(e.client.HTTPClient()),
		transport.WithHTTPLogger(transportLogger{e.logger.WithEndpoint(ep.ID, ep.URL)}),
	)
	if err != nil {
		return nil, err
	}
	// Close ends the server session with a DELETE that may wait on an
	// unresponsive server; the outcome must not.
	defer func() { go t.Close() }()

	if err := t.Start(ctx); err != nil {
		return nil, err
	}
	return e.session(t).handshake(ctx)
}
