// Package gobcodec wraps encoding/gob with a capitalization check:
// unexported struct fields silently fail to round-trip through gob, which
// is a frequent source of "why is my vote always false after a restart"
// bugs. It backs both the on-disk persistent store and the gRPC wire
// codec, so the same warning fires whether a type is being written to disk
// or sent to a peer.
package gobcodec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"
	"sync"
	"unicode"
	"unicode/utf8"
)

var (
	mu      sync.Mutex
	checked = map[reflect.Type]bool{}
)

// Marshal gob-encodes v.
func Marshal(v interface{}) ([]byte, error) {
	warnIfUnexported(v)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data produced by Marshal into v.
func Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Register records a concrete type under its own name so it can be decoded
// out of an interface-typed field (gob requires this for any type that will
// ever travel inside an interface{}).
func Register(value interface{}) {
	gob.Register(value)
}

func warnIfUnexported(value interface{}) {
	if value == nil {
		return
	}
	warnType(reflect.TypeOf(value))
}

func warnType(t reflect.Type) {
	if t == nil {
		return
	}

	mu.Lock()
	if checked[t] {
		mu.Unlock()
		return
	}
	checked[t] = true
	mu.Unlock()

	switch t.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Array:
		warnType(t.Elem())
	case reflect.Map:
		warnType(t.Key())
		warnType(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			r, _ := utf8.DecodeRuneInString(f.Name)
			if !unicode.IsUpper(r) {
				fmt.Printf("gobcodec: warning: unexported field %s of %s won't round-trip over the wire or to disk\n", f.Name, t.Name())
			}
			warnType(f.Type)
		}
	}
}
