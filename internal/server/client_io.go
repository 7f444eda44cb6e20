package server

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	hostErrors "github.com/channelhost/host/internal/errors"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// maxMessageSize bounds a single inbound frame.
	maxMessageSize = 64 * 1024
)

// closeSend safely signals the client to shut down exactly once.
// We only close done (not send) to avoid racing with ongoing sends.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

// closing reports whether the client has been told to shut down.
func (c *Client) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// trySend queues msg without blocking. It reports false when the client is
// shutting down or its buffer is full.
func (c *Client) trySend(msg Message) bool {
	if c.closing() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// sendError queues a protocol-level error for this client.
func (c *Client) sendError(code, message string) {
	if !c.trySend(NewErrorMessage(code, message)) {
		c.logger.Debug().Str("code", code).Msg("error reply dropped")
	}
}

// writePump continuously sends messages from the send channel to the WebSocket.
// It also sends periodic pings to keep the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			data, err := json.Marshal(msg)
			if err != nil {
				c.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to marshal message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Str("code", hostErrors.CodeServerSendFailed).Msg("write failed")
				c.closeSend()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeSend()
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket and dispatches them. When it
// exits the client is unregistered and any stream it owns is cancelled.
func (c *Client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.closeSend()
		c.logger.Info().Int("clients", c.server.ClientCount()).Msg("client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(hostErrors.CodeServerInvalidMessage, "message is not valid JSON")
			continue
		}

		switch msg.Type {
		case MessageTypeMethodCall:
			c.handleMethodCall(msg.Payload)
		case MessageTypeEventListen:
			c.handleEventListen(msg.Payload)
		case MessageTypeEventCancel:
			c.handleEventCancel(msg.Payload)
		default:
			c.logger.Debug().Str("type", string(msg.Type)).Msg("unhandled message type")
			c.sendError(hostErrors.CodeServerHandlerMissing, "no handler for message type "+string(msg.Type))
		}
	}
}
