package payload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Member is a single key/value pair of a JSON object. Value holds the raw,
// undecoded bytes of the value exactly as they appeared in the source.
type Member struct {
	Key   string
	Value jsoniter.RawMessage
}

// Object is a JSON object whose members are kept in source order.
type Object []Member

// ParseObject parses data as a JSON object, preserving member order and
// leaving member values undecoded.
func ParseObject(data []byte) (Object, error) {
	iter := jsonAPI.BorrowIterator(data)
	defer jsonAPI.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, fmt.Errorf("expected JSON object")
	}

	var obj Object
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		obj = append(obj, Member{Key: key, Value: captureValue(it)})
		return it.Error == nil
	})
	if err := finish(iter); err != nil {
		return nil, err
	}

	return obj, nil
}

// Index returns the position of the first member whose key matches key
// case-insensitively.
func (o Object) Index(key string) (int, bool) {
	for i, m := range o {
		if strings.EqualFold(m.Key, key) {
			return i, true
		}
	}
	return -1, false
}

// Has reports whether the object has a member matching key
// case-insensitively.
func (o Object) Has(key string) bool {
	_, ok := o.Index(key)
	return ok
}

// HasKeys reports, for each of keys, whether the top-level JSON object in
// data has a member with a case-insensitively matching name. Values are
// skipped without being captured, so this is cheap on large documents.
// Data that is not a JSON object has none of the keys.
func HasKeys(data []byte, keys ...string) ([]bool, error) {
	found := make([]bool, len(keys))

	iter := jsonAPI.BorrowIterator(data)
	defer jsonAPI.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return found, nil
	}

	iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		for i, k := range keys {
			if !found[i] && strings.EqualFold(field, k) {
				found[i] = true
			}
		}
		it.Skip()
		return it.Error == nil
	})
	if err := finish(iter); err != nil {
		return nil, err
	}

	return found, nil
}

// splitArray returns the raw bytes of every element of the JSON array in
// data, in order.
func splitArray(data []byte) ([]jsoniter.RawMessage, error) {
	iter := jsonAPI.BorrowIterator(data)
	defer jsonAPI.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ArrayValue {
		return nil, fmt.Errorf("expected JSON array")
	}

	var elems []jsoniter.RawMessage
	iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
		elems = append(elems, captureValue(it))
		return it.Error == nil
	})
	if err := finish(iter); err != nil {
		return nil, err
	}

	return elems, nil
}

// captureValue skips the next value and returns its bytes without the
// whitespace that preceded it.
func captureValue(it *jsoniter.Iterator) jsoniter.RawMessage {
	return bytes.TrimLeft(it.SkipAndReturnBytes(), " \t\r\n")
}

// finish reports a parse error from iter, or an error if anything other
// than whitespace follows the top-level value.
func finish(iter *jsoniter.Iterator) error {
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return iter.Error
	}
	iter.Error = nil

	iter.WhatIsNext()
	if errors.Is(iter.Error, io.EOF) {
		return nil
	}
	if iter.Error != nil {
		return iter.Error
	}
	return fmt.Errorf("unexpected data after top-level JSON value")
}
