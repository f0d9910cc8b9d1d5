package dtypes

import (
	"unsafe"
)

// ToBytes reinterprets a flat slice of a supported Go type as its raw byte
// representation. The returned slice aliases the input -- it must not outlive
// it, and the input must not be garbage collected while the bytes are in use
// by an enqueued transfer.
func ToBytes[T Supported](flat []T) []byte {
	if len(flat) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*int(unsafe.Sizeof(t)))
}

// FromBytes reinterprets raw bytes as a flat slice of a supported Go type.
// The returned slice aliases the input.
func FromBytes[T Supported](data []byte) []T {
	if len(data) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), len(data)/int(unsafe.Sizeof(t)))
}
