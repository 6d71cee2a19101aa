// Package s3test runs an in-memory S3 endpoint for tests. Requests are
// routed by github.com/pachyderm/s2; buckets, objects and multipart
// uploads live in a map. Object listings use ListObjects (version 1).
package s3test

import (
	"net/http/httptest"
	"time"

	"github.com/pachyderm/s2"
	log "github.com/sirupsen/logrus"
)

const readBodyTimeout = 10 * time.Second

type Server struct {
	*httptest.Server

	c *controller
}

// NewServer starts a plain HTTP server holding the given empty buckets.
// Close it when done.
func NewServer(buckets ...string) *Server {
	s := newServer(buckets)
	s.Server.Start()
	return s
}

// NewTLSServer is NewServer over HTTPS. The certificate is available from
// Certificate.
func NewTLSServer(buckets ...string) *Server {
	s := newServer(buckets)
	s.Server.StartTLS()
	return s
}

func newServer(buckets []string) *Server {
	logger := log.WithField("source", "s3test")
	c := newController(logger)
	for _, b := range buckets {
		c.buckets[b] = map[string]*object{}
		c.created[b] = time.Now()
	}

	s3 := s2.NewS2(logger, 0, readBodyTimeout)
	s3.Service = c
	s3.Bucket = c
	s3.Object = c
	s3.Multipart = c

	return &Server{
		Server: httptest.NewUnstartedServer(s3.Router()),
		c:      c,
	}
}

// PutObject stores data without going through HTTP, creating the bucket
// if needed.
func (s *Server) PutObject(bucket, key string, data []byte) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if _, ok := s.c.buckets[bucket]; !ok {
		s.c.buckets[bucket] = map[string]*object{}
		s.c.created[bucket] = time.Now()
	}
	s.c.buckets[bucket][key] = newObject(data)
}

// Object returns the content of bucket/key.
func (s *Server) Object(bucket, key string) ([]byte, bool) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	obj, ok := s.c.buckets[bucket][key]
	if !ok {
		return nil, false
	}
	return obj.data, true
}

// Keys returns the sorted keys of bucket.
func (s *Server) Keys(bucket string) []string {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	return sortedKeys(s.c.buckets[bucket], "")
}

// Uploads returns how many multipart uploads are still in flight.
func (s *Server) Uploads() int {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	return len(s.c.uploads)
}

// Deny makes every request on bucket fail with 403 AccessDenied.
func (s *Server) Deny(bucket string) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	s.c.denied[bucket] = true
}

// Calls returns how many times the named controller operation ran, e.g.
// "ListObjects" or "UploadMultipartChunk". A HEAD on a bucket counts as
// ListObjects.
func (s *Server) Calls(op string) int {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	return s.c.calls[op]
}
