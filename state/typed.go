package state

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hotswap.state")

var encMode cbor.EncMode

func init() {
	em, err := cbor.EncOptions{Sort: cbor.SortCanonical, Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("state: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// TypeTag of a value as recorded in Entry.Type.
func TypeTag(v any) string {
	return fmt.Sprintf("%T", v)
}

// Save v under key as CBOR, tagged with its Go type.
func Save[T any](r *Registry, key string, v T) error {
	b, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: marshal %s: %w", key, err)
	}
	r.Register(key, b, TypeTag(v))
	return nil
}

// Load the CBOR value stored under key into a T. A type tag mismatch is logged, not enforced.
func Load[T any](r *Registry, key string) (v T, ok bool, err error) {
	var e Entry
	if e, ok = r.Lookup(key); !ok {
		return
	}
	if want := TypeTag(v); e.Type != want {
		log.Warningf("state %s tagged %s, loading as %s", key, e.Type, want)
	}
	if err = cbor.Unmarshal(e.Data, &v); err != nil {
		err = fmt.Errorf("state: unmarshal %s: %w", key, err)
	}
	return
}
