package gateway

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func TestCBORCodecDecodesFrames(t *testing.T) {
	codec := CBORCodec{}
	assert.Equal(t, websocket.MessageBinary, codec.MessageType())

	encoded, err := cborEncMode.Marshal(map[string]interface{}{
		"op": 0,
		"s":  12,
		"t":  "READY",
		"d": map[string]interface{}{
			"session_id": "abc",
			"guilds":     []map[string]interface{}{{"id": "1", "unavailable": true}},
		},
	})
	require.NoError(t, err)

	frame, err := codec.DecodeFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, OpDispatch, frame.Opcode)
	assert.Equal(t, "READY", frame.Type)
	require.NotNil(t, frame.Sequence)
	assert.Equal(t, int64(12), *frame.Sequence)

	var ready ReadyData
	require.NoError(t, codec.Unmarshal(frame.Data, &ready))
	assert.Equal(t, "abc", ready.SessionId)
	require.Len(t, ready.Guilds, 1)
	assert.Equal(t, "1", ready.Guilds[0].Id)
}

func TestCBORCodecEncodesHeartbeat(t *testing.T) {
	codec := CBORCodec{}

	seq := int64(5)
	encoded, err := codec.Marshal(outboundFrame{Opcode: OpHeartbeat, Data: &seq})
	require.NoError(t, err)

	var decoded struct {
		Opcode Opcode `cbor:"op"`
		Data   int64  `cbor:"d"`
	}
	require.NoError(t, cborDecMode.Unmarshal(encoded, &decoded))
	assert.Equal(t, OpHeartbeat, decoded.Opcode)
	assert.Equal(t, int64(5), decoded.Data)
}

func TestJSONFrameDecoderStream(t *testing.T) {
	stream := bytes.NewBufferString(`{"op":10,"d":{"heartbeat_interval":41250}}{"op":11,"d":null}`)
	decoder := JSONCodec{}.NewFrameDecoder(stream)

	frame, err := decoder.Next()
	require.NoError(t, err)
	assert.Equal(t, OpHello, frame.Opcode)

	var hello HelloData
	require.NoError(t, JSONCodec{}.Unmarshal(frame.Data, &hello))
	assert.Equal(t, 41250, hello.HeartbeatInterval)

	frame, err = decoder.Next()
	require.NoError(t, err)
	assert.Equal(t, OpHeartbeatAck, frame.Opcode)
	assert.Nil(t, frame.Sequence)
}

func TestCodecByName(t *testing.T) {
	codec, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", codec.Name())

	codec, err = CodecByName("cbor")
	require.NoError(t, err)
	assert.Equal(t, "cbor", codec.Name())

	_, err = CodecByName("etf")
	assert.Error(t, err)
}
