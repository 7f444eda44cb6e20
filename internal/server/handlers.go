package server

import (
	"encoding/json"
	"errors"

	"github.com/channelhost/host/internal/channel"
	hostErrors "github.com/channelhost/host/internal/errors"
)

// handleMethodCall resolves a method.call against the registry and replies
// with exactly one of method.result, method.error or method.not_implemented.
func (c *Client) handleMethodCall(data json.RawMessage) {
	var p MethodCallPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" || p.Channel == "" || p.Method == "" {
		c.sendError(hostErrors.CodeServerInvalidMessage, "method.call requires id, channel and method")
		return
	}

	label := p.Channel
	if !c.server.registry.HasMethodChannel(label) {
		label = unknownChannelLabel
	}

	if c.callLimiter != nil && !c.callLimiter.Allow() {
		methodCallsTotal.WithLabelValues(label, outcomeRateLimited).Inc()
		rl := hostErrors.RateLimited()
		c.sendError(rl.Code, rl.Message)
		return
	}

	var reply Message
	outcome := outcomeOK

	args, err := channel.DefaultCodec.Decode(p.Args)
	if err != nil {
		outcome = outcomeError
		reply = NewMethodErrorMessage(p.ID, channel.NewChannelError(hostErrors.CodeChannelInvalidArgs, "arguments are not valid JSON"))
	} else {
		result, err := c.server.registry.Dispatch(p.Channel, p.Method, args)
		switch {
		case err == nil:
			reply = NewMethodResultMessage(p.ID, result)
		case channel.IsNotImplemented(err):
			outcome = outcomeNotImplemented
			reply = NewMethodNotImplementedMessage(p.ID)
		default:
			outcome = outcomeError
			reply = NewMethodErrorMessage(p.ID, toChannelError(err))
		}
	}

	methodCallsTotal.WithLabelValues(label, outcome).Inc()
	c.logger.Debug().
		Str("channel", p.Channel).
		Str("method", p.Method).
		Str("outcome", outcome).
		Msg("method call")

	if !c.trySend(reply) {
		c.logger.Warn().Str("id", p.ID).Msg("reply dropped: client buffer full")
	}
}

// toChannelError converts a handler error into the value sent to the client.
func toChannelError(err error) *channel.ChannelError {
	var ce *channel.ChannelError
	if errors.As(err, &ce) {
		return ce
	}
	code, message := hostErrors.ToCodeAndMessage(err)
	return channel.NewChannelError(code, message)
}

func (c *Client) handleEventListen(data json.RawMessage) {
	var p StreamPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Channel == "" {
		c.sendError(hostErrors.CodeServerInvalidMessage, "event.listen requires channel")
		return
	}
	if err := c.server.listen(c, p.Channel); err != nil {
		code, message := hostErrors.ToCodeAndMessage(err)
		c.sendError(code, message)
	}
}

func (c *Client) handleEventCancel(data json.RawMessage) {
	var p StreamPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Channel == "" {
		c.sendError(hostErrors.CodeServerInvalidMessage, "event.cancel requires channel")
		return
	}
	if err := c.server.cancel(c, p.Channel); err != nil {
		code, message := hostErrors.ToCodeAndMessage(err)
		c.sendError(code, message)
	}
}
