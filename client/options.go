package client

import (
	"time"

	"github.com/koscakluka/ema-gateway/core/protocol"
)

type Option func(*Client)

// WithBackoffSchedule replaces the delays between reconnection attempts. The
// last delay repeats when there are more attempts than entries.
func WithBackoffSchedule(schedule []time.Duration) Option {
	return func(c *Client) {
		if len(schedule) > 0 {
			c.backoffSchedule = schedule
		}
	}
}

func WithMaxReconnectAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxReconnectAttempts = attempts
		}
	}
}

func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.handshakeTimeout = timeout
		}
	}
}

// WithMessageCallback receives every decoded server message.
func WithMessageCallback(callback func(protocol.ServerMessage)) Option {
	return func(c *Client) {
		if callback != nil {
			c.callbacks.onMessage = callback
		}
	}
}

// WithAudioCallback receives synthesized audio frames.
func WithAudioCallback(callback func([]byte)) Option {
	return func(c *Client) {
		if callback != nil {
			c.callbacks.onAudio = callback
		}
	}
}

// WithStateCallback is notified on every connection state transition.
func WithStateCallback(callback func(State)) Option {
	return func(c *Client) {
		if callback != nil {
			c.callbacks.onStateChange = callback
		}
	}
}

type callbacks struct {
	onMessage     func(protocol.ServerMessage)
	onAudio       func([]byte)
	onStateChange func(State)
}

func noopCallbacks() callbacks {
	return callbacks{
		onMessage:     func(protocol.ServerMessage) {},
		onAudio:       func([]byte) {},
		onStateChange: func(State) {},
	}
}
