package capture

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pierrec/lz4/v4"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/gfx"
)

// Version is the capture format version written in every header.
const Version = 1

const magic = "wbcap"

// Header opens every capture stream.
type Header struct {
	Magic        string           `cbor:"1,keyasint"`
	Version      int              `cbor:"2,keyasint"`
	Created      int64            `cbor:"3,keyasint"`
	Capabilities gfx.Capabilities `cbor:"4,keyasint"`
	Module       string           `cbor:"5,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Writer streams device calls as lz4-compressed CBOR. It implements
// gfx.Sink and is safe for concurrent use.
type Writer struct {
	zw     *lz4.Writer
	enc    *cbor.Encoder
	closer io.Closer
	calls  int
	mu     sync.Mutex
}

// NewWriter writes a header describing caps and returns a Writer. module
// names the compute module being captured and may be empty.
func NewWriter(w io.Writer, caps gfx.Capabilities, module string) (*Writer, error) {
	zw := lz4.NewWriter(w)
	if err := zw.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
		return nil, errors.Wrap(errors.PhaseCapture, errors.KindInvalidInput, err, "configure compressor")
	}
	cw := &Writer{zw: zw, enc: encMode.NewEncoder(zw)}
	h := Header{
		Magic:        magic,
		Version:      Version,
		Created:      time.Now().UnixMilli(),
		Capabilities: caps,
		Module:       module,
	}
	if err := cw.enc.Encode(h); err != nil {
		return nil, errors.Wrap(errors.PhaseCapture, errors.KindHostFailure, err, "write header")
	}
	return cw, nil
}

// Create opens path for writing and returns a Writer that closes the file
// on Close.
func Create(path string, caps gfx.Capabilities, module string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCapture, errors.KindHostFailure, err, "create capture file")
	}
	w, err := NewWriter(f, caps, module)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Record appends one call.
func (w *Writer) Record(c gfx.Call) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return errors.ErrClosed
	}
	if err := w.enc.Encode(c); err != nil {
		return errors.Wrap(errors.PhaseCapture, errors.KindHostFailure, err, "write call")
	}
	w.calls++
	return nil
}

// Calls returns the number of calls written so far.
func (w *Writer) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

// Flush pushes buffered calls to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return nil
	}
	return w.zw.Flush()
}

// Close finishes the compressed stream. Later calls to Record fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return nil
	}
	w.enc = nil
	err := w.zw.Close()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader reads a capture stream written by Writer.
type Reader struct {
	dec    *cbor.Decoder
	header Header
	closer io.Closer
}

// NewReader reads and checks the stream header.
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(bufio.NewReader(lz4.NewReader(r)))
	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, errors.Wrap(errors.PhaseCapture, errors.KindDecode, err, "read header")
	}
	if h.Magic != magic {
		return nil, errors.New(errors.PhaseCapture, errors.KindDecode).
			Detail("not a capture stream").
			Build()
	}
	if h.Version != Version {
		return nil, errors.New(errors.PhaseCapture, errors.KindUnsupported).
			Detail("capture version %d, want %d", h.Version, Version).
			Value(h.Version).
			Build()
	}
	return &Reader{dec: dec, header: h}, nil
}

// Open opens a capture file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCapture, errors.KindNotFound, err, "open capture file")
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Header returns the stream header.
func (r *Reader) Header() Header { return r.header }

// Next returns the next call, or io.EOF at the end of the stream.
func (r *Reader) Next() (gfx.Call, error) {
	var c gfx.Call
	if err := r.dec.Decode(&c); err != nil {
		if err == io.EOF {
			return c, io.EOF
		}
		return c, errors.Wrap(errors.PhaseCapture, errors.KindDecode, err, "read call")
	}
	return c, nil
}

// Close closes the underlying file when the Reader was opened with Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Replay applies every remaining call to dev and returns how many were
// applied. It stops at the first failing call; the error carries that
// call's position in the stream.
func Replay(r *Reader, dev gfx.Device) (int, error) {
	rp := gfx.NewReplayer(dev)
	for {
		c, err := r.Next()
		if err == io.EOF {
			return rp.Applied(), nil
		}
		if err != nil {
			return rp.Applied(), err
		}
		if err := rp.Apply(c); err != nil {
			return rp.Applied(), errors.AtIndex(err, rp.Applied())
		}
	}
}
