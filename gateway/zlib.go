package gateway

import (
	"io"

	"github.com/tatsuworks/czlib"
)

// zlibStream inflates a zlib-stream transport. The whole connection shares a single zlib
// context, so messages are fed into a pipe and frames are decoded from the inflated stream.
type zlibStream struct {
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
}

func newZlibStream() *zlibStream {
	pr, pw := io.Pipe()
	return &zlibStream{
		pipeReader: pr,
		pipeWriter: pw,
	}
}

// Feed blocks until the inflater has consumed data.
func (z *zlibStream) Feed(data []byte) error {
	_, err := z.pipeWriter.Write(data)
	return err
}

// Decode runs until the stream fails or is closed, handing every frame to fn.
func (z *zlibStream) Decode(codec Codec, fn func(Frame) bool) error {
	reader, err := czlib.NewReader(z.pipeReader)
	if err != nil {
		return err
	}
	defer reader.Close()

	decoder := codec.NewFrameDecoder(reader)
	for {
		frame, err := decoder.Next()
		if err != nil {
			return err
		}

		if !fn(frame) {
			return nil
		}
	}
}

func (z *zlibStream) CloseWithError(err error) {
	z.pipeWriter.CloseWithError(err)
	z.pipeReader.CloseWithError(err)
}
