package wire

//go:generate enumer -type=Kind -trimprefix=Kind

// Kind discriminates the variants of Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindStr
	KindBytes
	KindList
	KindMap
	KindStruct
	KindStub
)

// Value is the serializable surrogate of a marshaled Go value.
//
// Only the fields matching Kind are meaningful. Type carries the
// location/type annotation of non-primitive values and is opaque to
// this package.
type Value struct {
	Kind    Kind
	Type    string
	Bool    bool
	Int     int64
	Uint    uint64
	Float   float64
	Str     string
	Bytes   []byte
	Elems   []Value
	Entries []Entry
	Fields  []Field
	Stub    Stub
}

type Entry struct {
	Key, Value Value
}

type Field struct {
	Name  string
	Value Value
}

// A Stub is the serializable handle of an exported object.
type Stub struct {
	ObjectID string
	Endpoint string
}

func (s Stub) IsZero() bool { return s.ObjectID == "" }

func (s Stub) String() string { return s.ObjectID + "@" + s.Endpoint }

func Nil() Value            { return Value{Kind: KindNil} }
func Bool(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func Uint(u uint64) Value   { return Value{Kind: KindUint, Uint: u} }
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func String(s string) Value { return Value{Kind: KindStr, Str: s} }
func Bytes(b []byte) Value  { return Value{Kind: KindBytes, Bytes: b} }

func StubValue(s Stub, typ string) Value {
	return Value{Kind: KindStub, Type: typ, Stub: s}
}
