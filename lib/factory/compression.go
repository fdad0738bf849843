package factory

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/go-sshd/go-sshd/lib/sshbuf"
)

// zlibCompression implements the "zlib" and delayed "zlib@openssh.com"
// algorithms. One instance serves exactly one direction: stream state (the
// zlib dictionary) persists across packets, each compressed packet ending on
// a flush boundary so the peer can decompress it without the rest of the
// stream.
type zlibCompression struct {
	name    string
	delayed bool

	// deflate state
	out    bytes.Buffer
	writer *zlib.Writer

	// inflate state
	in     bytes.Buffer
	reader io.ReadCloser
}

func (z *zlibCompression) Name() string  { return z.name }
func (z *zlibCompression) Delayed() bool { return z.delayed }

func (z *zlibCompression) Init(mode CompressionMode) error {
	switch mode {
	case Deflate:
		z.writer = zlib.NewWriter(&z.out)
	case Inflate:
		// The reader is created lazily on the first packet, once the
		// two-byte zlib stream header is available.
		z.reader = nil
		z.in.Reset()
	}
	return nil
}

func (z *zlibCompression) Compress(buf *sshbuf.Buffer) error {
	if z.writer == nil {
		return fmt.Errorf("%s: not initialized for deflate", z.name)
	}
	z.out.Reset()
	payload := buf.Array()[buf.Rpos():buf.Wpos()]
	if _, err := z.writer.Write(payload); err != nil {
		return fmt.Errorf("%s: %w", z.name, err)
	}
	if err := z.writer.Flush(); err != nil {
		return fmt.Errorf("%s: %w", z.name, err)
	}
	buf.SetWpos(buf.Rpos())
	buf.PutRawBytes(z.out.Bytes())
	return nil
}

func (z *zlibCompression) Uncompress(src, dst *sshbuf.Buffer) error {
	z.in.Write(src.Array()[src.Rpos():src.Wpos()])
	src.SetRpos(src.Wpos())

	if z.reader == nil {
		r, err := zlib.NewReader(&z.in)
		if err != nil {
			return fmt.Errorf("%s: %w", z.name, err)
		}
		z.reader = r
	}

	// Drain everything the flushed segment yields. Running out of input
	// mid-stream is the expected end of a packet, not an error.
	chunk := make([]byte, 4096)
	for {
		n, err := z.reader.Read(chunk)
		if n > 0 {
			dst.PutRawBytes(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("%s: %w", z.name, err)
		}
		if n == 0 && z.in.Len() == 0 {
			return nil
		}
	}
}

// noneCompression is the identity transform for the "none" slot value. The
// codec treats a nil compression the same way; the factory exists so "none"
// can be negotiated by name.
type noneCompression struct{}

func (noneCompression) Name() string                { return "none" }
func (noneCompression) Delayed() bool               { return false }
func (noneCompression) Init(CompressionMode) error  { return nil }
func (noneCompression) Compress(*sshbuf.Buffer) error {
	return nil
}
func (noneCompression) Uncompress(src, dst *sshbuf.Buffer) error {
	dst.PutBuffer(src)
	return nil
}

// BuiltinCompressions returns the built-in compression factories in
// preference order. "none" first: compression costs CPU and the delayed
// variant is preferred over plain zlib when the peer supports it.
func BuiltinCompressions() []Named[Compression] {
	return []Named[Compression]{
		{Name: "none", Create: func() Compression { return noneCompression{} }},
		{Name: "zlib@openssh.com", Create: func() Compression {
			return &zlibCompression{name: "zlib@openssh.com", delayed: true}
		}},
		{Name: "zlib", Create: func() Compression {
			return &zlibCompression{name: "zlib"}
		}},
	}
}

// IsNoneCompression returns true when the negotiated compression is the
// identity transform; the codec skips the compression stage entirely then.
func IsNoneCompression(c Compression) bool {
	if c == nil {
		return true
	}
	_, ok := c.(noneCompression)
	return ok
}
