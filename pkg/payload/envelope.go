// Package payload turns arbitrary JSON read from disk into the AddOrUpdate
// envelope accepted by the Push API, and validates the documents in it.
//
// Field names in Push API payloads are case-insensitive, so every lookup in
// this package matches keys with strings.EqualFold.
package payload

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"
	jsoniter "github.com/json-iterator/go"
)

const (
	// AddOrUpdateKey is the canonical envelope key.
	AddOrUpdateKey = "AddOrUpdate"

	// DocumentIDKey must be present on every document.
	DocumentIDKey = "DocumentId"

	// FileExtensionKey should be present on every document.
	FileExtensionKey = "FileExtension"
)

var (
	// ErrMissingDocumentID is returned when a document has no DocumentId.
	ErrMissingDocumentID = errors.New("no DocumentId")

	// ErrInvalidAddOrUpdate is returned when the AddOrUpdate member of a
	// payload is not a JSON array, or when it appears more than once.
	ErrInvalidAddOrUpdate = errors.New("AddOrUpdate must be a single JSON array")
)

// Document is one indexable item, kept as the raw JSON it was read from.
type Document = jsoniter.RawMessage

// Envelope is the {"AddOrUpdate": [...]} wrapper sent to the Push API.
type Envelope struct {
	AddOrUpdate []Document

	// extra holds any other top-level members of the source payload. They are
	// written back unchanged after AddOrUpdate.
	extra Object
}

// NewEnvelope wraps docs in an envelope.
func NewEnvelope(docs []Document) *Envelope {
	return &Envelope{AddOrUpdate: docs}
}

// Decode canonicalizes raw JSON into an envelope without validating the
// documents:
//   - an array becomes the AddOrUpdate sequence;
//   - an object with an AddOrUpdate member (any case) has that member
//     renamed to the canonical case; a second matching member is an error;
//   - anything else is wrapped as the single element of AddOrUpdate.
func Decode(data []byte) (*Envelope, error) {
	iter := jsonAPI.BorrowIterator(data)
	next := iter.WhatIsNext()
	jsonAPI.ReturnIterator(iter)

	switch next {
	case jsoniter.ArrayValue:
		elems, err := splitArray(data)
		if err != nil {
			return nil, err
		}
		return &Envelope{AddOrUpdate: elems}, nil

	case jsoniter.ObjectValue:
		obj, err := ParseObject(data)
		if err != nil {
			return nil, err
		}

		idx, ok := obj.Index(AddOrUpdateKey)
		if !ok {
			return &Envelope{AddOrUpdate: []Document{bytes.Clone(data)}}, nil
		}

		if _, dup := obj[idx+1:].Index(AddOrUpdateKey); dup {
			return nil, fmt.Errorf("%w: member appears more than once", ErrInvalidAddOrUpdate)
		}

		elems, err := splitArray(obj[idx].Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddOrUpdate, err)
		}

		extra := make(Object, 0, len(obj)-1)
		extra = append(extra, obj[:idx]...)
		extra = append(extra, obj[idx+1:]...)
		return &Envelope{AddOrUpdate: elems, extra: extra}, nil

	default:
		if !jsonAPI.Valid(data) {
			return nil, fmt.Errorf("invalid JSON payload")
		}
		return &Envelope{AddOrUpdate: []Document{bytes.Clone(data)}}, nil
	}
}

// ExtraKeys returns the names of the top-level members kept besides
// AddOrUpdate, in source order.
func (e *Envelope) ExtraKeys() []string {
	if len(e.extra) == 0 {
		return nil
	}
	keys := make([]string, len(e.extra))
	for i, m := range e.extra {
		keys[i] = m.Key
	}
	return keys
}

// Normalize decodes raw JSON into an envelope and validates it.
func Normalize(data []byte, logger hclog.Logger) (*Envelope, error) {
	env, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := env.Validate(logger); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate checks that every document carries a DocumentId. A single
// document without one fails the whole envelope. Documents without a
// FileExtension only produce one warning for the envelope.
func (e *Envelope) Validate(logger hclog.Logger) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	warned := false
	for i, doc := range e.AddOrUpdate {
		found, err := HasKeys(doc, DocumentIDKey, FileExtensionKey)
		if err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
		if !found[0] {
			logger.Warn("missing DocumentId in some documents in the payload, stopping",
				"index", i)
			return fmt.Errorf("document %d: %w", i, ErrMissingDocumentID)
		}
		if !warned && !found[1] {
			logger.Warn("missing FileExtension in some documents, it's good practice to provide them")
			warned = true
		}
	}
	return nil
}

// Len returns the number of documents in the envelope.
func (e *Envelope) Len() int {
	return len(e.AddOrUpdate)
}

// WriteTo serializes the envelope to w without building the whole body in
// memory first.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	cw.writeString(`{"` + AddOrUpdateKey + `":[`)
	for i, doc := range e.AddOrUpdate {
		if i > 0 {
			cw.writeString(",")
		}
		cw.write(doc)
	}
	cw.writeString("]")

	for _, m := range e.extra {
		key, err := jsonAPI.Marshal(m.Key)
		if err != nil {
			return cw.n, err
		}
		cw.writeString(",")
		cw.write(key)
		cw.writeString(":")
		cw.write(m.Value)
	}
	cw.writeString("}")

	return cw.n, cw.err
}

// MarshalJSON implements json.Marshaler.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) write(p []byte) {
	if c.err != nil {
		return
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
}

func (c *countingWriter) writeString(s string) {
	c.write([]byte(s))
}
