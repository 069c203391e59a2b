// Package common has helpers shared by format drivers.
package common

import (
	"flag"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	fieldsVar string
	fields    []string // Hashing fields

	declareOnce sync.Once
)

// HashFlag declares -format.hash once for every driver using it.
func HashFlag() {
	declareOnce.Do(func() {
		flag.StringVar(&fieldsVar, "format.hash", "", "Message fields the key is built from, separated by commas (empty for the message's own key)")
	})
}

func ManualHashInit() error {
	fields = fields[:0]
	for _, f := range strings.Split(fieldsVar, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return nil
}

// HashKeyLocal keys msg on the configured fields, or on its own Key method
// when no field is configured.
func HashKeyLocal(msg interface{}) []byte {
	if len(fields) == 0 {
		if k, ok := msg.(interface{ Key() []byte }); ok {
			return k.Key()
		}
		return nil
	}
	return []byte(HashFields(fields, msg))
}

// HashFields concatenates the values of the named struct fields. Unknown
// fields are ignored.
func HashFields(fields []string, msg interface{}) string {
	if msg == nil {
		return ""
	}
	vfm := reflect.Indirect(reflect.ValueOf(msg))
	if vfm.Kind() != reflect.Struct {
		return ""
	}
	var b strings.Builder
	for _, kf := range fields {
		fieldValue := vfm.FieldByName(kf)
		if fieldValue.IsValid() && fieldValue.CanInterface() {
			fmt.Fprintf(&b, "%v-", fieldValue.Interface())
		}
	}
	return b.String()
}
