package kargs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
)

var (
	ErrUnsupportedArgument = errors.New("kargs: unsupported argument type")
	ErrInvalidArgument     = errors.New("kargs: invalid argument")
)

// Kind is the class of a kernel argument.
type Kind uint8

const (
	KindScalar Kind = iota
	KindPointer
	KindLocal
	KindImage
	KindSampler
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindPointer:
		return "pointer"
	case KindLocal:
		return "local"
	case KindImage:
		return "image"
	case KindSampler:
		return "sampler"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Addresser is anything that lives at a device address, typically a buffer.
type Addresser interface {
	Address() uint64
}

// Arg is one kernel argument as bound by the host.
type Arg struct {
	Kind Kind
	// Value holds the raw little-endian bytes of a scalar.
	Value []byte
	// Buffer is the target of a pointer argument; nil is a null pointer.
	Buffer Addresser
	Offset uint64
	// Size is the per-workgroup byte count of a local argument.
	Size uint64
}

// Bytes binds a scalar from its raw bytes.
func Bytes(b []byte) Arg { return Arg{Kind: KindScalar, Value: b} }

func U32(v uint32) Arg {
	return Bytes(binary.LittleEndian.AppendUint32(nil, v))
}

func I32(v int32) Arg { return U32(uint32(v)) }

func U64(v uint64) Arg {
	return Bytes(binary.LittleEndian.AppendUint64(nil, v))
}

func F32(v float32) Arg { return U32(math.Float32bits(v)) }

// Pointer binds buf+off. A nil buf, including a typed nil such as a nil
// *Buffer, yields a null pointer and off is ignored.
func Pointer(buf Addresser, off uint64) Arg {
	if isNil(buf) {
		return Null()
	}
	return Arg{Kind: KindPointer, Buffer: buf, Offset: off}
}

func isNil(a Addresser) bool {
	if a == nil {
		return true
	}
	v := reflect.ValueOf(a)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// Target is the device address a pointer argument resolves to. ok is false
// for a null pointer.
func (a Arg) Target() (addr uint64, ok bool, err error) {
	if a.Kind != KindPointer || isNil(a.Buffer) {
		return 0, false, nil
	}
	base := a.Buffer.Address()
	addr = base + a.Offset
	if addr < base {
		return 0, false, fmt.Errorf("%w: pointer %#x+%#x overflows", ErrInvalidArgument, base, a.Offset)
	}
	return addr, true, nil
}

// Null binds a null device pointer.
func Null() Arg { return Arg{Kind: KindPointer} }

// Local reserves size bytes of workgroup-local memory.
func Local(size uint64) Arg { return Arg{Kind: KindLocal, Size: size} }

func Image() Arg   { return Arg{Kind: KindImage} }
func Sampler() Arg { return Arg{Kind: KindSampler} }

func (a Arg) validate(i int) error {
	switch a.Kind {
	case KindScalar:
		if len(a.Value) == 0 {
			return fmt.Errorf("%w: argument %d: empty scalar", ErrInvalidArgument, i)
		}
	case KindPointer:
	case KindLocal:
		if a.Size == 0 {
			return fmt.Errorf("%w: argument %d: zero-sized local", ErrInvalidArgument, i)
		}
		if a.Size > math.MaxUint32 {
			return fmt.Errorf("%w: argument %d: local size %d exceeds 32 bits", ErrInvalidArgument, i, a.Size)
		}
	case KindImage, KindSampler:
		return fmt.Errorf("%w: argument %d is %s", ErrUnsupportedArgument, i, a.Kind)
	default:
		return fmt.Errorf("%w: argument %d is %s", ErrUnsupportedArgument, i, a.Kind)
	}
	return nil
}
