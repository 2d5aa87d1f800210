package hotswap

import (
	"fmt"
	"reflect"
	"unsafe"
)

// FuncAddr returns the code address of a top level function value, suitable for [Table.Register].
func FuncAddr(f any) uintptr {
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func || v.IsNil() {
		panic(fmt.Sprintf("hotswap: FuncAddr of %T", f))
	}
	return v.Pointer()
}

// As convert a code address to the contract function type T.
//
// The address must be the entry of a function whose signature matches T exactly.
func As[T any](addr uintptr) (x T) {
	holder := new(uintptr)
	*holder = addr
	x = *(*T)(unsafe.Pointer(&holder))
	return
}

// Use create a function to look up symbol through t and use it on the fly.
// Panics raised while using the function are returned as errors.
func Use[T any](t *Table, symbol string) func(func(f T)) error {
	return func(fn func(f T)) (err error) {
		addr, ok := t.Lookup(symbol)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotRegistered, symbol)
		}
		defer func() {
			switch y := recover().(type) {
			case nil:
			case error:
				err = y
			default:
				err = fmt.Errorf("%v", y)
			}
		}()
		fn(As[T](addr))
		return
	}
}
