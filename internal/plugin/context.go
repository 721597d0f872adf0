package plugin

import (
	"context"

	"willbot/internal/transport"
	logx "willbot/pkg/logx"
)

type outboundKey struct{}
type loggerKey struct{}

type outbound struct {
	sender        transport.Sender
	defaultTarget *transport.ChatTarget
}

// WithOutbound attaches the outbound sender and the default channel used by
// Base.Say. defaultTarget may be nil.
func WithOutbound(ctx context.Context, sender transport.Sender, defaultTarget *transport.ChatTarget) context.Context {
	return context.WithValue(ctx, outboundKey{}, outbound{sender: sender, defaultTarget: defaultTarget})
}

func outboundFrom(ctx context.Context) (outbound, bool) {
	o, ok := ctx.Value(outboundKey{}).(outbound)
	return o, ok
}

// SenderFrom returns the sender attached with WithOutbound.
func SenderFrom(ctx context.Context) (transport.Sender, bool) {
	o, ok := outboundFrom(ctx)
	return o.sender, ok && o.sender != nil
}

func WithLogger(ctx context.Context, log logx.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, log)
}

// LoggerFrom returns the plugin-scoped logger, or a no-op logger.
func LoggerFrom(ctx context.Context) logx.Logger {
	if l, ok := ctx.Value(loggerKey{}).(logx.Logger); ok {
		return l
	}
	return logx.Nop()
}
