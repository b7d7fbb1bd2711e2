package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, m Message) []byte {
	t.Helper()
	b, err := Encode(m)
	require.NoError(t, err)
	return b
}

func TestDecoder_ByteByByte(t *testing.T) {
	inv := &Invocation{
		ID:     7,
		Target: "stubA",
		Method: "get",
		Args: []Value{
			Int(-3),
			String("x"),
			{Kind: KindList, Type: "[]int", Elems: []Value{Int(1), Int(2)}},
		},
	}
	enc := mustEncode(t, inv)

	d := NewDecoder(0)
	for i := 0; i < len(enc)-1; i++ {
		d.Feed(enc[i : i+1])
		_, err := d.Next()
		require.Equal(t, ErrNeedMore, err, "byte %d", i)
	}
	d.Feed(enc[len(enc)-1:])
	m, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, inv, m)
	assert.Equal(t, 0, d.Buffered())

	_, err = d.Next()
	assert.Equal(t, ErrNeedMore, err)
}

func TestDecoder_MultipleFramesInOneRead(t *testing.T) {
	var buf bytes.Buffer
	msgs := []Message{
		&HandshakeResponse{Accept: true},
		&Result{ID: 7, Value: Int(42)},
		&Error{ID: 8, Type: "*errors.errorString", Message: "nope"},
		&Cancel{ID: 9},
		&Heartbeat{},
	}
	for _, m := range msgs {
		buf.Write(mustEncode(t, m))
	}
	d := NewDecoder(0)
	d.Feed(buf.Bytes())
	for _, exp := range msgs {
		m, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, exp, m)
	}
	_, err := d.Next()
	assert.Equal(t, ErrNeedMore, err)
}

func TestDecoder_UnknownTag(t *testing.T) {
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], 4711)
	d := NewDecoder(0)
	d.Feed(hdr[:])
	_, err := d.Next()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "unknown message tag")
}

func TestDecoder_FrameTooLong(t *testing.T) {
	enc := mustEncode(t, &Invocation{ID: 1, Target: "t", Method: "a-rather-long-method-name"})
	d := NewDecoder(8)
	d.Feed(enc[:HeaderLen])
	_, err := d.Next()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr, "length is checked before the payload arrives")
}

func TestDecoder_MalformedPayload(t *testing.T) {
	enc := mustEncode(t, &Result{ID: 1, Value: String("abc")})
	// corrupt the kind of the nested value
	enc[len(enc)-6] = 0x7f
	d := NewDecoder(0)
	d.Feed(enc)
	_, err := d.Next()
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
}

func TestDecoder_ReadMessage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(mustEncode(t, &HandshakeRequest{Version: 1, Capabilities: []string{"a", "b"}}))
	buf.Write(mustEncode(t, &Cancel{ID: 3}))
	// the second frame is cut short
	full := buf.Bytes()
	r := bytes.NewReader(full[:len(full)-1])

	d := NewDecoder(0)
	readBuf := make([]byte, 3)
	m, err := d.ReadMessage(r, readBuf)
	require.NoError(t, err)
	assert.Equal(t, &HandshakeRequest{Version: 1, Capabilities: []string{"a", "b"}}, m)

	_, err = d.ReadMessage(r, readBuf)
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestValue_NestedRoundtrip(t *testing.T) {
	v := Value{
		Kind: KindStruct,
		Type: "example.Order",
		Fields: []Field{
			{Name: "Items", Value: Value{Kind: KindMap, Type: "map[string]float64", Entries: []Entry{
				{Key: String("apple"), Value: Float(1.5)},
			}}},
			{Name: "Owner", Value: StubValue(Stub{ObjectID: "id-1", Endpoint: "127.0.0.1:1"}, "*example.Customer")},
			{Name: "Raw", Value: Bytes([]byte{0, 1, 2})},
			{Name: "Flag", Value: Bool(true)},
			{Name: "Count", Value: Uint(1 << 40)},
			{Name: "None", Value: Nil()},
		},
	}
	dec, err := DecodeValue(AppendValue(nil, &v))
	require.NoError(t, err)
	assert.Equal(t, v, dec)
}

func TestValue_DepthLimit(t *testing.T) {
	v := Int(1)
	for i := 0; i < MaxValueDepth+2; i++ {
		v = Value{Kind: KindList, Elems: []Value{v}}
	}
	_, err := DecodeValue(AppendValue(nil, &v))
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
}

func TestTag_String(t *testing.T) {
	assert.Equal(t, "Invocation", TagInvocation.String())
	assert.Equal(t, "Heartbeat", TagHeartbeat.String())
	assert.Equal(t, "Tag(0)", Tag(0).String())
	assert.True(t, IsApplication(&Cancel{}))
	assert.False(t, IsApplication(&HandshakeRequest{}))
}

func TestKind_StringParse(t *testing.T) {
	assert.Equal(t, "Str", KindStr.String())
	assert.Equal(t, "Struct", KindStruct.String())
	for _, k := range KindValues() {
		parsed, err := KindString(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := KindString("String")
	assert.Error(t, err)
	assert.Equal(t, KindStr, String("x").Kind)
}
