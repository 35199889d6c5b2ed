package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"nhooyr.io/websocket"
)

// Codec encodes outbound payloads and decodes inbound frames for one wire encoding.
type Codec interface {
	// Name is the value of the gateway's encoding query parameter.
	Name() string
	MessageType() websocket.MessageType
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	DecodeFrame(data []byte) (Frame, error)
	NewFrameDecoder(r io.Reader) FrameDecoder
}

// FrameDecoder reads consecutive frames from a stream, used for zlib-stream transports
// where message boundaries are lost after inflation.
type FrameDecoder interface {
	Next() (Frame, error)
}

var (
	encodingLock   sync.Mutex
	encoding       Codec = JSONCodec{}
	encodingFrozen bool
)

// SetEncoding selects the process-wide wire encoding. It must be called before the first
// shard is created; after that every frame of the process uses the same encoding.
func SetEncoding(name string) error {
	codec, err := CodecByName(name)
	if err != nil {
		return err
	}

	encodingLock.Lock()
	defer encodingLock.Unlock()

	if encodingFrozen && codec.Name() != encoding.Name() {
		return fmt.Errorf("encoding already fixed to %s", encoding.Name())
	}

	encoding = codec
	return nil
}

// ProcessCodec returns the process-wide codec and freezes the selection.
func ProcessCodec() Codec {
	encodingLock.Lock()
	defer encodingLock.Unlock()

	encodingFrozen = true
	return encoding
}

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
}

type JSONCodec struct{}

type jsonFrame struct {
	Opcode   Opcode          `json:"op"`
	Sequence *int64          `json:"s"`
	Type     string          `json:"t"`
	Data     json.RawMessage `json:"d"`
}

func (JSONCodec) Name() string {
	return "json"
}

func (JSONCodec) MessageType() websocket.MessageType {
	return websocket.MessageText
}

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, v)
}

func (JSONCodec) DecodeFrame(data []byte) (Frame, error) {
	var frame jsonFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, err
	}

	return frame.toFrame(), nil
}

func (JSONCodec) NewFrameDecoder(r io.Reader) FrameDecoder {
	return &jsonFrameDecoder{decoder: json.NewDecoder(r)}
}

func (f jsonFrame) toFrame() Frame {
	return Frame{
		Opcode:   f.Opcode,
		Sequence: f.Sequence,
		Type:     f.Type,
		Data:     f.Data,
	}
}

type jsonFrameDecoder struct {
	decoder *json.Decoder
}

func (d *jsonFrameDecoder) Next() (Frame, error) {
	var frame jsonFrame
	if err := d.decoder.Decode(&frame); err != nil {
		return Frame{}, err
	}

	return frame.toFrame(), nil
}

// CBORCodec is the binary encoding. Payload structs are shared with JSON; the cbor
// library falls back to json struct tags.
type CBORCodec struct{}

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error

	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("gateway: CBOR encoder initialization failed: " + err.Error())
	}

	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("gateway: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborFrame struct {
	Opcode   Opcode          `cbor:"op"`
	Sequence *int64          `cbor:"s"`
	Type     string          `cbor:"t"`
	Data     cbor.RawMessage `cbor:"d"`
}

func (CBORCodec) Name() string {
	return "cbor"
}

func (CBORCodec) MessageType() websocket.MessageType {
	return websocket.MessageBinary
}

func (CBORCodec) Marshal(v interface{}) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func (CBORCodec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}

	return cborDecMode.Unmarshal(data, v)
}

func (CBORCodec) DecodeFrame(data []byte) (Frame, error) {
	var frame cborFrame
	if err := cborDecMode.Unmarshal(data, &frame); err != nil {
		return Frame{}, err
	}

	return frame.toFrame(), nil
}

func (CBORCodec) NewFrameDecoder(r io.Reader) FrameDecoder {
	return &cborFrameDecoder{decoder: cborDecMode.NewDecoder(r)}
}

func (f cborFrame) toFrame() Frame {
	return Frame{
		Opcode:   f.Opcode,
		Sequence: f.Sequence,
		Type:     f.Type,
		Data:     f.Data,
	}
}

type cborFrameDecoder struct {
	decoder *cbor.Decoder
}

func (d *cborFrameDecoder) Next() (Frame, error) {
	var frame cborFrame
	if err := d.decoder.Decode(&frame); err != nil {
		return Frame{}, err
	}

	return frame.toFrame(), nil
}
