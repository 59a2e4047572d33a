// Package control demultiplexes datachannel messages, throttles the
// control channels, and drives the robot API under the session and safety
// gates.
package control

import (
	"sync"

	"github.com/datapilot/chainkvm/pkg/protocol"
)

// HandlerFunc processes one decoded-type message. A non-nil response is
// sent back to the operator; a returned error becomes an INVALID_MESSAGE
// notification.
type HandlerFunc func(data []byte) (any, error)

// Router dispatches raw datachannel payloads by message type. The registry
// is read-mostly; dispatch itself holds no state and is safe for
// concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register installs the handler for a message type, replacing any previous
// one.
func (r *Router) Register(msgType string, fn HandlerFunc) {
	r.mu.Lock()
	r.handlers[msgType] = fn
	r.mu.Unlock()
}

// Dispatch decodes the type head and invokes the matching handler. The
// returned message, if non-nil, must be delivered to the sender; protocol
// rejections come back as ErrorMessage values, never as errors.
func (r *Router) Dispatch(data []byte) any {
	msgType, err := protocol.DecodeType(data)
	if err != nil {
		return protocol.ErrorMessage{
			Type:   protocol.TypeError,
			Code:   protocol.ErrCodeInvalidMessage,
			Reason: err.Error(),
		}
	}

	if !protocol.KnownTypes[msgType] {
		return protocol.ErrorMessage{
			Type:    protocol.TypeError,
			Code:    protocol.ErrCodeUnknownType,
			RefType: msgType,
		}
	}

	r.mu.RLock()
	fn, ok := r.handlers[msgType]
	r.mu.RUnlock()
	if !ok {
		return protocol.ErrorMessage{
			Type:    protocol.TypeError,
			Code:    protocol.ErrCodeUnknownType,
			Reason:  "no handler",
			RefType: msgType,
		}
	}

	resp, err := fn(data)
	if err != nil {
		return protocol.ErrorMessage{
			Type:    protocol.TypeError,
			Code:    protocol.ErrCodeInvalidMessage,
			Reason:  err.Error(),
			RefType: msgType,
		}
	}
	return resp
}
