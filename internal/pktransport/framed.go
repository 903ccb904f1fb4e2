package pktransport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// lengthPrefixLen is the width of the length header placed in front of
// every frame: a plain byte stream (pipe, UART, SSH session stdio) has
// no packet boundaries of its own, so FramedPort imposes one the same
// way the teacher's protocol/frame.ReadFrame/WriteFrame impose a fixed
// header in front of a variable-length payload.
const lengthPrefixLen = 2

// MaxFrameLen is the largest frame FramedPort will read or write; it
// bounds the uint16 length prefix and guards against a corrupt stream
// driving an unbounded allocation.
const MaxFrameLen = 1<<16 - 1

var ErrFrameTooLarge = errors.New("pktransport: frame exceeds MaxFrameLen")

// FramedPort turns an io.ReadWriteCloser byte stream into a Port by
// prefixing every frame with its length. It is the stand-in for a
// USB-HID interrupt endpoint (which already delivers whole packets) on
// top of any medium that doesn't preserve message boundaries on its
// own: local pipes, a UART, or an SSH session's Stdin/Stdout.
type FramedPort struct {
	rwc io.ReadWriteCloser

	writeMu sync.Mutex
	readMu  sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewFramedPort wraps rwc. Closing the returned Port closes rwc.
func NewFramedPort(rwc io.ReadWriteCloser) *FramedPort {
	return &FramedPort{rwc: rwc}
}

func (p *FramedPort) Send(frame []byte) error {
	if len(frame) > MaxFrameLen {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	var header [lengthPrefixLen]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(frame)))
	if _, err := p.rwc.Write(header[:]); err != nil {
		return translateIOErr(err)
	}
	if len(frame) == 0 {
		return nil
	}
	if _, err := p.rwc.Write(frame); err != nil {
		return translateIOErr(err)
	}
	return nil
}

func (p *FramedPort) Receive() ([]byte, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	var header [lengthPrefixLen]byte
	if _, err := io.ReadFull(p.rwc, header[:]); err != nil {
		return nil, translateIOErr(err)
	}
	n := binary.BigEndian.Uint16(header[:])
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.rwc, buf); err != nil {
		return nil, translateIOErr(err)
	}
	return buf, nil
}

func (p *FramedPort) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.rwc.Close()
	})
	return p.closeErr
}

func translateIOErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrClosed
	}
	return err
}
