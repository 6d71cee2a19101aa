// Copyright 2022 the go-s3merge Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package merger concatenates the part objects a batch job left under a
// prefix into a single object.
//
// A merge lists the prefix, appends the lines of every object whose name
// starts with the initial name and ends with the extension of the target
// key, deletes every object whose name starts with the initial name,
// uploads the result and finally removes the _SUCCESS markers of the job.
//
// Nothing is rolled back: a failure in the middle of a merge leaves the
// inputs deleted so far deleted and the target not written.
package merger

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/ThierryZhou/go-s3merge/s3"
)

// Store is the object store a merge runs against. *s3.Client implements it.
type Store interface {
	HeadBucket(ctx context.Context, bucket string) (bool, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]s3.Object, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	UploadObject(ctx context.Context, bucket, key string, body io.Reader) (*s3.Object, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	Close() error
}

// OpenFunc connects to the store. Merge calls it once per run and closes
// the store before returning.
type OpenFunc func(ctx context.Context) (Store, error)

// Request holds the arguments of one merge.
type Request struct {
	Bucket string
	// Key is the object written with the merged content. Its extension
	// selects which inputs are merged.
	Key string
	// InitialName selects the inputs: objects under Prefix whose name
	// starts with it.
	InitialName string
	// Prefix is where the inputs live. Empty means the bucket root.
	Prefix string
	// DeleteMarkers removes Prefix+_SUCCESS and Prefix+._SUCCESS.crc after
	// the upload.
	DeleteMarkers bool
}

// NewRequest returns a request for the bucket root with marker deletion
// enabled.
func NewRequest(bucket, key, initialName string) *Request {
	return &Request{
		Bucket:        bucket,
		Key:           key,
		InitialName:   initialName,
		DeleteMarkers: true,
	}
}

func (r *Request) validate() error {
	if r.Bucket == "" {
		return fmt.Errorf("%w: Bucket not informed", ErrInvalidArgument)
	}
	if r.Key == "" {
		return fmt.Errorf("%w: Object key not informed", ErrInvalidArgument)
	}
	return nil
}

// Result describes what a merge did. Keys are listed in processing order.
type Result struct {
	Bucket string
	Key    string
	Prefix string
	// Merged are the inputs whose lines went into Key.
	Merged []string
	// Skipped are the inputs deleted without being merged.
	Skipped []string
	// Deleted are all inputs removed from the store, Merged and Skipped.
	Deleted []string
	// Markers are the marker keys a deletion was issued for.
	Markers []string
	// Bytes is the size of the uploaded object.
	Bytes int
}

type Merger struct {
	open        OpenFunc
	metrics     *Metrics
	maxLineSize int
}

type Option func(*Merger)

func WithMetrics(m *Metrics) Option {
	return func(mg *Merger) {
		mg.metrics = m
	}
}

// WithMaxLineSize bounds the length of a single input line.
func WithMaxLineSize(n int) Option {
	return func(mg *Merger) {
		if n > 0 {
			mg.maxLineSize = n
		}
	}
}

func New(open OpenFunc, opts ...Option) *Merger {
	m := &Merger{
		open:        open,
		maxLineSize: DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge runs req against a freshly opened store.
//
// On a store failure the partial Result is returned with the error so the
// caller can tell which inputs are already gone.
func (m *Merger) Merge(ctx context.Context, req *Request) (res *Result, err error) {
	start := time.Now()
	defer func() {
		m.metrics.observe(start, err)
	}()

	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidArgument)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	store, err := m.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer CheckClose(store, &err)

	return m.merge(ctx, store, req)
}

func (m *Merger) merge(ctx context.Context, store Store, req *Request) (*Result, error) {
	exists, err := store.HeadBucket(ctx, req.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, req.Bucket)
	}

	prefix := NormalizePrefix(req.Prefix)
	logger := log.WithFields(log.Fields{
		"bucket": req.Bucket,
		"prefix": prefix,
	})

	objects, err := store.ListObjects(ctx, req.Bucket, prefix)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: %q in bucket %s", ErrPrefixNotFound, prefix, req.Bucket)
	}
	logger.Infof("listed %d objects", len(objects))

	res := &Result{
		Bucket: req.Bucket,
		Key:    req.Key,
		Prefix: prefix,
	}

	ext := Extension(req.Key)
	var buf bytes.Buffer
	for _, obj := range objects {
		name := ObjectName(obj.Key)
		if !strings.HasPrefix(name, req.InitialName) {
			continue
		}

		if strings.HasSuffix(name, ext) {
			if err := m.appendObject(ctx, store, req.Bucket, obj.Key, &buf); err != nil {
				return res, err
			}
			res.Merged = append(res.Merged, obj.Key)
		} else {
			logger.Debugf("skip %s: extension does not match %q", obj.Key, ext)
			res.Skipped = append(res.Skipped, obj.Key)
			m.metrics.skipped()
		}

		if err := store.DeleteObject(ctx, req.Bucket, obj.Key); err != nil {
			return res, err
		}
		res.Deleted = append(res.Deleted, obj.Key)
		m.metrics.deleted()
	}

	if len(res.Deleted) == 0 {
		return nil, fmt.Errorf("%w: no object under %q starts with %q", ErrNoObjectsToMerge, prefix, req.InitialName)
	}

	// drop the line break appended after the last line
	if buf.Len() > 0 {
		buf.Truncate(buf.Len() - len(LineBreak))
	}
	size := buf.Len()

	if _, err := store.UploadObject(ctx, req.Bucket, req.Key, &buf); err != nil {
		return res, err
	}
	res.Bytes = size
	m.metrics.uploaded(size)
	logger.Infof("merged %d of %d matching objects into %s (%d bytes)", len(res.Merged), len(res.Deleted), req.Key, size)

	if req.DeleteMarkers {
		for _, key := range MarkerKeys(prefix) {
			if err := store.DeleteObject(ctx, req.Bucket, key); err != nil {
				return res, err
			}
			res.Markers = append(res.Markers, key)
			m.metrics.deleted()
		}
		logger.Debugf("deleted markers %v", res.Markers)
	}

	return res, nil
}

// appendObject copies the lines of bucket/key to buf, each followed by a
// line break. Nothing is appended unless the whole object is valid UTF-8.
func (m *Merger) appendObject(ctx context.Context, store Store, bucket, key string, buf *bytes.Buffer) (err error) {
	body, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer CheckClose(body, &err)

	initial := 64 * 1024
	if initial > m.maxLineSize {
		initial = m.maxLineSize
	}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, initial), m.maxLineSize)
	scanner.Split(ScanLines)

	mark := buf.Len()
	lines := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if !utf8.Valid(line) {
			buf.Truncate(mark)
			return fmt.Errorf("%w: line %d of %s", ErrInvalidEncoding, lines+1, key)
		}
		buf.Write(line)
		buf.WriteString(LineBreak)
		lines++
	}
	if err := scanner.Err(); err != nil {
		buf.Truncate(mark)
		return fmt.Errorf("read %s: %w", key, err)
	}

	var downloaded int64
	if r, ok := body.(interface{ BytesRead() int64 }); ok {
		downloaded = r.BytesRead()
	}
	m.metrics.merged(downloaded)
	log.Debugf("appended %d lines of %s", lines, key)

	return nil
}

// ScanLines is a bufio.SplitFunc like bufio.ScanLines that also ends a
// line on a lone '\r'. "\r\n" is a single line break and a final empty
// line is dropped.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		// a trailing '\r' may be the first half of "\r\n"
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// NormalizePrefix makes a non-empty prefix end with Separator.
func NormalizePrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, Separator) {
		return prefix
	}
	return prefix + Separator
}

// ObjectName returns the part of key after its last Separator.
func ObjectName(key string) string {
	return key[strings.LastIndex(key, Separator)+1:]
}

// Extension returns the part of key after its last Dot, without the dot.
// A key without a dot is its own extension.
func Extension(key string) string {
	return key[strings.LastIndex(key, Dot)+1:]
}

// MarkerKeys returns the marker objects a job leaves under prefix, which
// must already be normalized.
func MarkerKeys(prefix string) []string {
	return []string{
		prefix + SuccessMarker,
		prefix + SuccessChecksumMarker,
	}
}

// CheckClose is a utility function used to check the return from
// Close in a defer statement.
func CheckClose(c io.Closer, err *error) {
	cerr := c.Close()
	if *err == nil {
		*err = cerr
	}
}
