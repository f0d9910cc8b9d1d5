// Package dtypes defines the element types supported by vexcl distributed
// vectors and the conversions between their host (Go) and device (OpenCL C)
// representations.
package dtypes

import (
	"reflect"

	"github.com/x448/float16"
)

// DType is the type of the elements of a distributed vector or sparse matrix.
type DType int

const (
	InvalidDType DType = iota
	Bool
	Int32
	Int64
	Uint32
	Uint64
	Float16
	Float32
	Float64
)

var dtypeNames = [...]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
}

// String implements fmt.Stringer.
func (dt DType) String() string {
	if dt < 0 || int(dt) >= len(dtypeNames) {
		return "InvalidDType"
	}
	return dtypeNames[dt]
}

// Size returns the size in bytes of one element, on host and on device.
func (dt DType) Size() int {
	switch dt {
	case Bool:
		return 1
	case Float16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	return 0
}

// CLType returns the OpenCL C scalar type name used to declare elements of
// this type in generated kernel source.
func (dt DType) CLType() string {
	switch dt {
	case Bool:
		return "char"
	case Int32:
		return "int"
	case Int64:
		return "long"
	case Uint32:
		return "uint"
	case Uint64:
		return "ulong"
	case Float16:
		return "half"
	case Float32:
		return "float"
	case Float64:
		return "double"
	}
	return "void"
}

// IsFloat returns whether the dtype is a floating point type.
func (dt DType) IsFloat() bool {
	return dt == Float16 || dt == Float32 || dt == Float64
}

// IsInteger returns whether the dtype is a (signed or unsigned) integer type.
func (dt DType) IsInteger() bool {
	switch dt {
	case Int32, Int64, Uint32, Uint64:
		return true
	}
	return false
}

// RequiresFP64 returns whether kernels over this dtype need the device to
// support double precision (the cl_khr_fp64 extension).
func (dt DType) RequiresFP64() bool {
	return dt == Float64
}

// Supported constrains the Go types that can instantiate a distributed
// vector, a reductor or a sparse matrix.
type Supported interface {
	int32 | int64 | uint32 | uint64 | float16.Float16 | float32 | float64
}

// FromGenericsType returns the DType corresponding to the Go type parameter.
func FromGenericsType[T Supported]() DType {
	var t T
	return FromGoType(reflect.TypeOf(t))
}

// FromGoType returns the DType corresponding to the given Go type, or
// InvalidDType if there is none.
func FromGoType(t reflect.Type) DType {
	switch t {
	case reflect.TypeOf(false):
		return Bool
	case reflect.TypeOf(int32(0)):
		return Int32
	case reflect.TypeOf(int64(0)):
		return Int64
	case reflect.TypeOf(uint32(0)):
		return Uint32
	case reflect.TypeOf(uint64(0)):
		return Uint64
	case reflect.TypeOf(float16.Float16(0)):
		return Float16
	case reflect.TypeOf(float32(0)):
		return Float32
	case reflect.TypeOf(float64(0)):
		return Float64
	}
	return InvalidDType
}
