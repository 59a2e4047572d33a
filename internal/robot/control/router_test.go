package control

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapilot/chainkvm/pkg/protocol"
)

func asError(t *testing.T, resp any) protocol.ErrorMessage {
	t.Helper()
	msg, ok := resp.(protocol.ErrorMessage)
	require.True(t, ok, "expected ErrorMessage, got %T", resp)
	return msg
}

func TestRouter_UnparseablePayload(t *testing.T) {
	r := NewRouter()

	msg := asError(t, r.Dispatch([]byte("{not json")))
	assert.Equal(t, protocol.ErrCodeInvalidMessage, msg.Code)

	msg = asError(t, r.Dispatch([]byte(`{}`)))
	assert.Equal(t, protocol.ErrCodeInvalidMessage, msg.Code)
}

func TestRouter_UnknownType(t *testing.T) {
	r := NewRouter()

	msg := asError(t, r.Dispatch([]byte(`{"type":"teleport"}`)))
	assert.Equal(t, protocol.ErrCodeUnknownType, msg.Code)
	assert.Equal(t, "teleport", msg.RefType)
}

func TestRouter_KnownTypeWithoutHandler(t *testing.T) {
	r := NewRouter()

	msg := asError(t, r.Dispatch([]byte(`{"type":"drive","v":1,"w":0}`)))
	assert.Equal(t, protocol.ErrCodeUnknownType, msg.Code)
	assert.Equal(t, "no handler", msg.Reason)
}

func TestRouter_HandlerErrorBecomesInvalidMessage(t *testing.T) {
	r := NewRouter()
	r.Register(protocol.TypeDrive, func([]byte) (any, error) {
		return nil, errors.New("velocity out of range")
	})

	msg := asError(t, r.Dispatch([]byte(`{"type":"drive","v":99}`)))
	assert.Equal(t, protocol.ErrCodeInvalidMessage, msg.Code)
	assert.Equal(t, "velocity out of range", msg.Reason)
}

func TestRouter_HandlerResponsePassthrough(t *testing.T) {
	r := NewRouter()
	r.Register(protocol.TypePing, func([]byte) (any, error) {
		return protocol.PongMessage{Type: protocol.TypePong, Seq: 7}, nil
	})

	resp := r.Dispatch([]byte(`{"type":"ping","seq":7}`))
	pong, ok := resp.(protocol.PongMessage)
	require.True(t, ok)
	assert.Equal(t, uint64(7), pong.Seq)
}

func TestRouter_NilResponse(t *testing.T) {
	r := NewRouter()
	r.Register(protocol.TypeAck, func([]byte) (any, error) { return nil, nil })

	assert.Nil(t, r.Dispatch([]byte(`{"type":"ack"}`)))
}

func TestRouter_ConcurrentDispatch(t *testing.T) {
	r := NewRouter()
	var handled sync.Map
	r.Register(protocol.TypeDrive, func(data []byte) (any, error) {
		handled.Store(string(data), true)
		return protocol.AckMessage{Type: protocol.TypeAck}, nil
	})

	const workers = 8
	const perWorker = 250
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if i%50 == w {
					r.Register(protocol.TypePing, func([]byte) (any, error) { return nil, nil })
				}
				resp := r.Dispatch([]byte(`{"type":"drive"}`))
				if _, ok := resp.(protocol.AckMessage); !ok {
					t.Errorf("unexpected response %T", resp)
					return
				}
			}
		}(w)
	}
	wg.Wait()
}
