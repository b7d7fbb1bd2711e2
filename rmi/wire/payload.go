package wire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxValueDepth bounds the nesting of decoded values.
const MaxValueDepth = 64

// field numbers, changing them breaks the wire format
const (
	fInvocationID     protowire.Number = 1
	fInvocationTarget protowire.Number = 2
	fInvocationMethod protowire.Number = 3
	fInvocationArg    protowire.Number = 4

	fResultID    protowire.Number = 1
	fResultValue protowire.Number = 2

	fErrorID      protowire.Number = 1
	fErrorType    protowire.Number = 2
	fErrorMessage protowire.Number = 3

	fCancelID protowire.Number = 1

	fHsReqVersion    protowire.Number = 1
	fHsReqCapability protowire.Number = 2

	fHsResAccept protowire.Number = 1
	fHsResReason protowire.Number = 2

	fValueKind   protowire.Number = 1
	fValueType   protowire.Number = 2
	fValueBool   protowire.Number = 3
	fValueInt    protowire.Number = 4
	fValueUint   protowire.Number = 5
	fValueFloat  protowire.Number = 6
	fValueStr    protowire.Number = 7
	fValueBytes  protowire.Number = 8
	fValueElem   protowire.Number = 9
	fValueEntry  protowire.Number = 10
	fValueField  protowire.Number = 11
	fValueStub   protowire.Number = 12
	fEntryKey    protowire.Number = 1
	fEntryValue  protowire.Number = 2
	fFieldName   protowire.Number = 1
	fFieldValue  protowire.Number = 2
	fStubID      protowire.Number = 1
	fStubAddress protowire.Number = 2
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendPayload(b []byte, m Message) ([]byte, error) {
	switch m := m.(type) {
	case *Invocation:
		b = appendVarintField(b, fInvocationID, m.ID)
		b = appendStringField(b, fInvocationTarget, m.Target)
		b = appendStringField(b, fInvocationMethod, m.Method)
		for i := range m.Args {
			b = appendBytesField(b, fInvocationArg, AppendValue(nil, &m.Args[i]))
		}
	case *Result:
		b = appendVarintField(b, fResultID, m.ID)
		b = appendBytesField(b, fResultValue, AppendValue(nil, &m.Value))
	case *Error:
		b = appendVarintField(b, fErrorID, m.ID)
		b = appendStringField(b, fErrorType, m.Type)
		b = appendStringField(b, fErrorMessage, m.Message)
	case *Cancel:
		b = appendVarintField(b, fCancelID, m.ID)
	case *HandshakeRequest:
		b = appendVarintField(b, fHsReqVersion, uint64(m.Version))
		for _, c := range m.Capabilities {
			b = appendStringField(b, fHsReqCapability, c)
		}
	case *HandshakeResponse:
		b = appendVarintField(b, fHsResAccept, protowire.EncodeBool(m.Accept))
		b = appendStringField(b, fHsResReason, m.Reason)
	case *Heartbeat:
	default:
		return nil, protoErr("cannot encode message of type %T", m)
	}
	return b, nil
}

// AppendValue appends the protobuf wire encoding of v to b.
func AppendValue(b []byte, v *Value) []byte {
	b = appendVarintField(b, fValueKind, uint64(v.Kind))
	if v.Type != "" {
		b = appendStringField(b, fValueType, v.Type)
	}
	switch v.Kind {
	case KindBool:
		b = appendVarintField(b, fValueBool, protowire.EncodeBool(v.Bool))
	case KindInt:
		b = appendVarintField(b, fValueInt, protowire.EncodeZigZag(v.Int))
	case KindUint:
		b = appendVarintField(b, fValueUint, v.Uint)
	case KindFloat:
		b = protowire.AppendTag(b, fValueFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.Float))
	case KindStr:
		b = appendStringField(b, fValueStr, v.Str)
	case KindBytes:
		b = appendBytesField(b, fValueBytes, v.Bytes)
	case KindList:
		for i := range v.Elems {
			b = appendBytesField(b, fValueElem, AppendValue(nil, &v.Elems[i]))
		}
	case KindMap:
		for i := range v.Entries {
			var e []byte
			e = appendBytesField(e, fEntryKey, AppendValue(nil, &v.Entries[i].Key))
			e = appendBytesField(e, fEntryValue, AppendValue(nil, &v.Entries[i].Value))
			b = appendBytesField(b, fValueEntry, e)
		}
	case KindStruct:
		for i := range v.Fields {
			var f []byte
			f = appendStringField(f, fFieldName, v.Fields[i].Name)
			f = appendBytesField(f, fFieldValue, AppendValue(nil, &v.Fields[i].Value))
			b = appendBytesField(b, fValueField, f)
		}
	case KindStub:
		var s []byte
		s = appendStringField(s, fStubID, v.Stub.ObjectID)
		s = appendStringField(s, fStubAddress, v.Stub.Endpoint)
		b = appendBytesField(b, fValueStub, s)
	}
	return b
}

// fieldFunc consumes the value of one field and returns the number of bytes consumed.
// Returning 0 skips the field.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func consumeFields(what string, b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protoWrap(protowire.ParseError(n), "cannot parse %s field tag", what)
		}
		b = b[n:]
		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protoWrap(protowire.ParseError(n), "cannot skip unknown %s field %d", what, num)
			}
		}
		b = b[n:]
	}
	return nil
}

func consumeVarint(what string, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, protoErr("%s: unexpected wire type %d", what, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protoWrap(protowire.ParseError(n), "%s", what)
	}
	return v, n, nil
}

func consumeBytes(what string, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, protoErr("%s: unexpected wire type %d", what, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protoWrap(protowire.ParseError(n), "%s", what)
	}
	return v, n, nil
}

func decodePayload(tag Tag, b []byte) (Message, error) {
	switch tag {
	case TagInvocation:
		m := &Invocation{}
		err := consumeFields("invocation", b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
			var raw []byte
			switch num {
			case fInvocationID:
				m.ID, n, err = consumeVarint("invocation id", typ, b)
			case fInvocationTarget:
				raw, n, err = consumeBytes("invocation target", typ, b)
				m.Target = string(raw)
			case fInvocationMethod:
				raw, n, err = consumeBytes("invocation method", typ, b)
				m.Method = string(raw)
			case fInvocationArg:
				raw, n, err = consumeBytes("invocation argument", typ, b)
				if err == nil {
					var v Value
					err = decodeValue(raw, &v, 0)
					m.Args = append(m.Args, v)
				}
			}
			return n, err
		})
		return m, err
	case TagResult:
		m := &Result{}
		err := consumeFields("result", b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
			switch num {
			case fResultID:
				m.ID, n, err = consumeVarint("result id", typ, b)
			case fResultValue:
				var raw []byte
				raw, n, err = consumeBytes("result value", typ, b)
				if err == nil {
					err = decodeValue(raw, &m.Value, 0)
				}
			}
			return n, err
		})
		return m, err
	case TagError:
		m := &Error{}
		err := consumeFields("error", b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
			var raw []byte
			switch num {
			case fErrorID:
				m.ID, n, err = consumeVarint("error id", typ, b)
			case fErrorType:
				raw, n, err = consumeBytes("error type", typ, b)
				m.Type = string(raw)
			case fErrorMessage:
				raw, n, err = consumeBytes("error message", typ, b)
				m.Message = string(raw)
			}
			return n, err
		})
		return m, err
	case TagCancel:
		m := &Cancel{}
		err := consumeFields("cancel", b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
			if num == fCancelID {
				m.ID, n, err = consumeVarint("cancel id", typ, b)
			}
			return n, err
		})
		return m, err
	case TagHandshakeRequest:
		m := &HandshakeRequest{}
		err := consumeFields("handshake request", b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
			switch num {
			case fHsReqVersion:
				var v uint64
				v, n, err = consumeVarint("handshake version", typ, b)
				if err == nil && v > math.MaxUint32 {
					err = protoErr("handshake version %d out of range", v)
				}
				m.Version = uint32(v)
			case fHsReqCapability:
				var raw []byte
				raw, n, err = consumeBytes("handshake capability", typ, b)
				if err == nil {
					m.Capabilities = append(m.Capabilities, string(raw))
				}
			}
			return n, err
		})
		return m, err
	case TagHandshakeResponse:
		m := &HandshakeResponse{}
		err := consumeFields("handshake response", b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
			switch num {
			case fHsResAccept:
				var v uint64
				v, n, err = consumeVarint("handshake accept", typ, b)
				m.Accept = protowire.DecodeBool(v)
			case fHsResReason:
				var raw []byte
				raw, n, err = consumeBytes("handshake reason", typ, b)
				m.Reason = string(raw)
			}
			return n, err
		})
		return m, err
	case TagHeartbeat:
		return &Heartbeat{}, nil
	default:
		return nil, protoErr("unknown message tag %d", uint32(tag))
	}
}

// DecodeValue is the inverse of AppendValue.
func DecodeValue(b []byte) (Value, error) {
	var v Value
	err := decodeValue(b, &v, 0)
	return v, err
}

func decodeValue(b []byte, v *Value, depth int) error {
	if depth > MaxValueDepth {
		return protoErr("value nesting exceeds %d levels", MaxValueDepth)
	}
	return consumeFields("value", b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var (
			raw []byte
			u   uint64
		)
		switch num {
		case fValueKind:
			u, n, err = consumeVarint("value kind", typ, b)
			v.Kind = Kind(u)
			if err == nil && (u > uint64(KindStub) || !v.Kind.IsAKind()) {
				err = protoErr("unknown value kind %d", u)
			}
		case fValueType:
			raw, n, err = consumeBytes("value type", typ, b)
			v.Type = string(raw)
		case fValueBool:
			u, n, err = consumeVarint("bool value", typ, b)
			v.Bool = protowire.DecodeBool(u)
		case fValueInt:
			u, n, err = consumeVarint("int value", typ, b)
			v.Int = protowire.DecodeZigZag(u)
		case fValueUint:
			v.Uint, n, err = consumeVarint("uint value", typ, b)
		case fValueFloat:
			if typ != protowire.Fixed64Type {
				return 0, protoErr("float value: unexpected wire type %d", typ)
			}
			u, n = protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, protoWrap(protowire.ParseError(n), "float value")
			}
			v.Float = math.Float64frombits(u)
		case fValueStr:
			raw, n, err = consumeBytes("string value", typ, b)
			v.Str = string(raw)
		case fValueBytes:
			raw, n, err = consumeBytes("bytes value", typ, b)
			v.Bytes = append([]byte{}, raw...)
		case fValueElem:
			raw, n, err = consumeBytes("list element", typ, b)
			if err == nil {
				var e Value
				err = decodeValue(raw, &e, depth+1)
				v.Elems = append(v.Elems, e)
			}
		case fValueEntry:
			raw, n, err = consumeBytes("map entry", typ, b)
			if err == nil {
				var e Entry
				err = decodeEntry(raw, &e, depth+1)
				v.Entries = append(v.Entries, e)
			}
		case fValueField:
			raw, n, err = consumeBytes("struct field", typ, b)
			if err == nil {
				var f Field
				err = decodeField(raw, &f, depth+1)
				v.Fields = append(v.Fields, f)
			}
		case fValueStub:
			raw, n, err = consumeBytes("stub", typ, b)
			if err == nil {
				err = decodeStub(raw, &v.Stub)
			}
		}
		return n, err
	})
}

func decodeEntry(b []byte, e *Entry, depth int) error {
	return consumeFields("map entry", b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var raw []byte
		switch num {
		case fEntryKey:
			raw, n, err = consumeBytes("map key", typ, b)
			if err == nil {
				err = decodeValue(raw, &e.Key, depth)
			}
		case fEntryValue:
			raw, n, err = consumeBytes("map value", typ, b)
			if err == nil {
				err = decodeValue(raw, &e.Value, depth)
			}
		}
		return n, err
	})
}

func decodeField(b []byte, f *Field, depth int) error {
	return consumeFields("struct field", b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var raw []byte
		switch num {
		case fFieldName:
			raw, n, err = consumeBytes("field name", typ, b)
			f.Name = string(raw)
		case fFieldValue:
			raw, n, err = consumeBytes("field value", typ, b)
			if err == nil {
				err = decodeValue(raw, &f.Value, depth)
			}
		}
		return n, err
	})
}

func decodeStub(b []byte, s *Stub) error {
	return consumeFields("stub", b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var raw []byte
		switch num {
		case fStubID:
			raw, n, err = consumeBytes("stub id", typ, b)
			s.ObjectID = string(raw)
		case fStubAddress:
			raw, n, err = consumeBytes("stub endpoint", typ, b)
			s.Endpoint = string(raw)
		}
		return n, err
	})
}
