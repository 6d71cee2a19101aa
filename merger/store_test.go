package merger

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/ThierryZhou/go-s3merge/s3"
)

// memStore is an in-memory Store keeping a log of the mutating calls.
type memStore struct {
	buckets map[string]map[string][]byte

	heads   int
	lists   int
	gets    []string
	deletes []string
	uploads []string
	closed  int
}

func newMemStore(bucket string, objects map[string]string) *memStore {
	m := &memStore{buckets: map[string]map[string][]byte{}}
	if bucket != "" {
		m.buckets[bucket] = map[string][]byte{}
		for k, v := range objects {
			m.buckets[bucket][k] = []byte(v)
		}
	}
	return m
}

func (m *memStore) opener() OpenFunc {
	return func(context.Context) (Store, error) {
		return m, nil
	}
}

func (m *memStore) object(bucket, key string) (string, bool) {
	b, ok := m.buckets[bucket][key]
	return string(b), ok
}

func (m *memStore) HeadBucket(_ context.Context, bucket string) (bool, error) {
	m.heads++
	_, ok := m.buckets[bucket]
	return ok, nil
}

func (m *memStore) ListObjects(_ context.Context, bucket, prefix string) ([]s3.Object, error) {
	m.lists++
	var keys []string
	for k := range m.buckets[bucket] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var list []s3.Object
	for _, k := range keys {
		list = append(list, s3.NewObject(bucket, k, int64(len(m.buckets[bucket][k]))))
	}
	return list, nil
}

func (m *memStore) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.gets = append(m.gets, key)
	b, ok := m.buckets[bucket][key]
	if !ok {
		return nil, s3.ErrInvalidObjectKey
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) UploadObject(_ context.Context, bucket, key string, body io.Reader) (*s3.Object, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	m.uploads = append(m.uploads, key)
	m.buckets[bucket][key] = b
	obj := s3.NewObject(bucket, key, int64(len(b)))
	return &obj, nil
}

func (m *memStore) DeleteObject(_ context.Context, bucket, key string) error {
	m.deletes = append(m.deletes, key)
	delete(m.buckets[bucket], key)
	return nil
}

func (m *memStore) Close() error {
	m.closed++
	return nil
}

// mockStore lets a test inject failures at a given call.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) HeadBucket(ctx context.Context, bucket string) (bool, error) {
	args := m.Called(ctx, bucket)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ListObjects(ctx context.Context, bucket, prefix string) ([]s3.Object, error) {
	args := m.Called(ctx, bucket, prefix)
	list, _ := args.Get(0).([]s3.Object)
	return list, args.Error(1)
}

func (m *mockStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	body, _ := args.Get(0).(io.ReadCloser)
	return body, args.Error(1)
}

func (m *mockStore) UploadObject(ctx context.Context, bucket, key string, body io.Reader) (*s3.Object, error) {
	args := m.Called(ctx, bucket, key, body)
	obj, _ := args.Get(0).(*s3.Object)
	return obj, args.Error(1)
}

func (m *mockStore) DeleteObject(ctx context.Context, bucket, key string) error {
	args := m.Called(ctx, bucket, key)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
