package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const HeaderLen = 8

// DefaultMaxPayloadLen bounds the payload a Decoder accepts unless configured otherwise.
const DefaultMaxPayloadLen = 16 * 1024 * 1024

type FrameHeader struct {
	Type       Tag
	PayloadLen uint32
}

func (f *FrameHeader) Unmarshal(buf []byte) {
	if len(buf) != HeaderLen {
		panic("frame header is 8 bytes long")
	}
	f.Type = Tag(binary.BigEndian.Uint32(buf[0:4]))
	f.PayloadLen = binary.BigEndian.Uint32(buf[4:8])
}

func (f *FrameHeader) marshalTo(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(f.Type))
	binary.BigEndian.PutUint32(buf[4:8], f.PayloadLen)
}

// Encode returns the complete frame for m.
// Encoding has no side effects and can be done on any goroutine.
func Encode(m Message) ([]byte, error) {
	buf := make([]byte, HeaderLen, HeaderLen+64)
	buf, err := appendPayload(buf, m)
	if err != nil {
		return nil, err
	}
	payloadLen := len(buf) - HeaderLen
	if uint64(payloadLen) > math.MaxUint32 {
		return nil, protoErr("%s payload too large (%d bytes)", m.Tag(), payloadLen)
	}
	hdr := FrameHeader{Type: m.Tag(), PayloadLen: uint32(payloadLen)}
	hdr.marshalTo(buf[:HeaderLen])
	return buf, nil
}

// ErrNeedMore is returned by Decoder.Next if no complete frame is buffered.
var ErrNeedMore = errors.New("wire: need more data")

// Decoder reassembles frames from arbitrarily split reads.
// It never reads from the network itself: the owner feeds it whatever
// bytes are available and drains complete messages with Next.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf           []byte
	off           int
	maxPayloadLen uint32
}

func NewDecoder(maxPayloadLen uint32) *Decoder {
	if maxPayloadLen == 0 {
		maxPayloadLen = DefaultMaxPayloadLen
	}
	return &Decoder{maxPayloadLen: maxPayloadLen}
}

func (d *Decoder) Feed(p []byte) {
	if d.off > 0 && d.off >= len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of fed bytes not yet consumed by Next.
func (d *Decoder) Buffered() int { return len(d.buf) - d.off }

// Next returns the next complete message or ErrNeedMore.
// Any other error is a *ProtocolError and the Decoder must not be used afterwards.
func (d *Decoder) Next() (Message, error) {
	avail := d.buf[d.off:]
	if len(avail) < HeaderLen {
		return nil, ErrNeedMore
	}
	var hdr FrameHeader
	hdr.Unmarshal(avail[:HeaderLen])
	if !hdr.Type.IsATag() {
		return nil, protoErr("unknown message tag %d", uint32(hdr.Type))
	}
	if hdr.PayloadLen > d.maxPayloadLen {
		return nil, protoErr("%s frame length exceeds max length (%d vs %d)", hdr.Type, hdr.PayloadLen, d.maxPayloadLen)
	}
	frameLen := HeaderLen + int(hdr.PayloadLen)
	if len(avail) < frameLen {
		return nil, ErrNeedMore
	}
	m, err := decodePayload(hdr.Type, avail[HeaderLen:frameLen])
	if err != nil {
		return nil, err
	}
	d.off += frameLen
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	}
	return m, nil
}

// ReadMessage returns the next message, reading from r only as long as
// no complete message is buffered. buf is used as the read buffer.
// It is meant for the blocking handshake phase of a connection.
func (d *Decoder) ReadMessage(r io.Reader, buf []byte) (Message, error) {
	for {
		m, err := d.Next()
		if err != ErrNeedMore {
			return m, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			d.Feed(buf[:n])
			continue
		}
		if err == io.EOF {
			if d.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
	}
}
