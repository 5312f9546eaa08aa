// Package pushapitest provides an in-process fake of the Push API, the
// Stream API and the upload storage, for use in tests.
package pushapitest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Operation names a remote call handled by the fake.
type Operation string

const (
	OpSetStatus   Operation = "set-status"
	OpDeleteOlder Operation = "delete-older-than"
	OpCreateFile  Operation = "create-file"
	OpPushBatch   Operation = "push-batch"
	OpOpenStream  Operation = "open-stream"
	OpStreamChunk Operation = "stream-chunk"
	OpCloseStream Operation = "close-stream"
	OpUpload      Operation = "upload"
)

// uploadSignature stands in for the credentials of a pre-signed URI.
const uploadSignature = "X-Amz-Signature=fake-signature"

// Request is one request received by the fake.
type Request struct {
	Op     Operation
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Server is a fake Push API. All state is guarded by mu so handlers can be
// inspected while a test is running.
type Server struct {
	*httptest.Server

	Org    string
	Source string

	mu       sync.Mutex
	requests []Request
	uploads  map[string][]byte
	failures map[Operation][]int
	files    int
	streams  int
	chunks   int
}

// New starts a fake server for org/source and registers its shutdown with
// t.Cleanup.
func New(t testing.TB, org, source string) *Server {
	t.Helper()

	s := &Server{
		Org:      org,
		Source:   source,
		uploads:  make(map[string][]byte),
		failures: make(map[Operation][]int),
	}

	mux := http.NewServeMux()
	src := fmt.Sprintf("/v1/organizations/%s/sources/%s", org, source)
	stream := "/push" + src + "/stream"

	mux.HandleFunc("POST "+src+"/status", s.handle(OpSetStatus, s.empty))
	mux.HandleFunc("DELETE "+src+"/documents/olderthan", s.handle(OpDeleteOlder, s.empty))
	mux.HandleFunc("POST /v1/organizations/"+org+"/files", s.handle(OpCreateFile, s.createFile))
	mux.HandleFunc("PUT "+src+"/documents/batch", s.handle(OpPushBatch, s.empty))
	mux.HandleFunc("POST "+stream+"/open", s.handle(OpOpenStream, s.openStream))
	mux.HandleFunc("POST "+stream+"/{id}/chunk", s.handle(OpStreamChunk, s.streamChunk))
	mux.HandleFunc("POST "+stream+"/{id}/close", s.handle(OpCloseStream, s.empty))
	mux.HandleFunc("PUT /upload/{name}", s.handle(OpUpload, s.upload))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

// PushBaseURL is the base URL to configure for Push API calls.
func (s *Server) PushBaseURL() string {
	return s.URL
}

// StreamBaseURL is the base URL to configure for Stream API calls.
func (s *Server) StreamBaseURL() string {
	return s.URL + "/push"
}

// FailNext makes the next len(statuses) calls of op answer with the given
// statuses, in order.
func (s *Server) FailNext(op Operation, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], statuses...)
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many times op was called.
func (s *Server) Count(op Operation) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Op == op {
			n++
		}
	}
	return n
}

// Ops returns the operations received so far, in order.
func (s *Server) Ops() []Operation {
	reqs := s.Requests()
	ops := make([]Operation, len(reqs))
	for i, r := range reqs {
		ops[i] = r.Op
	}
	return ops
}

// Uploaded returns the bodies received on upload URIs, in order.
func (s *Server) Uploaded() [][]byte {
	var bodies [][]byte
	for _, r := range s.Requests() {
		if r.Op == OpUpload {
			bodies = append(bodies, r.Body)
		}
	}
	return bodies
}

// UploadedTo returns the body stored under an upload URI.
func (s *Server) UploadedTo(uploadURI string) ([]byte, bool) {
	u, err := url.Parse(uploadURI)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.uploads[strings.TrimPrefix(u.Path, "/upload/")]
	return body, ok
}

func (s *Server) handle(op Operation, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Op:     op,
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		var status int
		if pending := s.failures[op]; len(pending) > 0 {
			status, s.failures[op] = pending[0], pending[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			http.Error(w, fmt.Sprintf(`{"errorCode":"FAKE_FAILURE","message":"%s failed"}`, op), status)
			return
		}

		if op != OpUpload && r.Header.Get("Authorization") == "" {
			http.Error(w, `{"errorCode":"UNAUTHORIZED"}`, http.StatusUnauthorized)
			return
		}

		if op == OpUpload {
			s.mu.Lock()
			s.uploads[r.PathValue("name")] = body
			s.mu.Unlock()
		}
		next(w, r)
	}
}

func (s *Server) empty(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) upload(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) createFile(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.files++
	id := fmt.Sprintf("file-%d", s.files)
	s.mu.Unlock()

	writeJSON(w, map[string]string{
		"fileId":    id,
		"uploadUri": s.uploadURI(id),
	})
}

func (s *Server) openStream(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.streams++
	s.chunks++
	id := fmt.Sprintf("stream-%d", s.streams)
	chunk := fmt.Sprintf("%s-chunk-%d", id, s.chunks)
	s.mu.Unlock()

	writeJSON(w, map[string]string{
		"streamId":  id,
		"uploadUri": s.uploadURI(chunk),
	})
}

func (s *Server) streamChunk(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.chunks++
	chunk := fmt.Sprintf("%s-chunk-%d", r.PathValue("id"), s.chunks)
	s.mu.Unlock()

	writeJSON(w, map[string]string{"uploadUri": s.uploadURI(chunk)})
}

func (s *Server) uploadURI(name string) string {
	return s.URL + "/upload/" + name + "?" + uploadSignature
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
