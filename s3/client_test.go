package s3_test

import (
	"bytes"
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThierryZhou/go-s3merge/s3"
	"github.com/ThierryZhou/go-s3merge/s3/s3test"
)

const (
	TestBucket    string = "test-bucket"
	TestAccessKey string = "test-access-key"
	TestSecretKey string = "test-secret-key"
)

// isolate keeps the host's shared AWS config and CA bundle out of the way.
func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_CA_BUNDLE", "")
	return dir
}

func s3client_setup(t *testing.T, fns ...s3.OptionFunc) (*s3test.Server, *s3.Client) {
	t.Helper()

	isolate(t)

	srv := s3test.NewServer(TestBucket)
	t.Cleanup(srv.Close)

	fns = append([]s3.OptionFunc{
		s3.WithS3Address(srv.URL, true),
		s3.WithS3User(TestAccessKey, TestSecretKey, ""),
	}, fns...)

	client, err := s3.NewS3Client(context.Background(), s3.NewOption(fns...))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return srv, client
}

func Test_HeadBucket(t *testing.T) {
	srv, client := s3client_setup(t)
	srv.Deny("forbidden-bucket")
	ctx := context.Background()

	testCases := []struct {
		name    string
		bucket  string
		want    bool
		wantErr bool
	}{
		{name: "exists", bucket: TestBucket, want: true},
		{name: "missing", bucket: "missing-bucket", want: false},
		{name: "forbidden", bucket: "forbidden-bucket", want: false, wantErr: true},
	}
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.HeadBucket(ctx, tt.bucket)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil, "test case is failed: %v", err)
		})
	}

	_, err := client.HeadBucket(ctx, "forbidden-bucket")
	var re *awshttp.ResponseError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusForbidden, re.HTTPStatusCode())

	_, err = client.HeadBucket(ctx, "")
	assert.ErrorIs(t, err, s3.ErrInvalidBucketName)
}

func Test_ObjectLifecycle(t *testing.T) {
	srv, client := s3client_setup(t)
	ctx := context.Background()
	assert := assert.New(t)

	obj, err := client.UploadObject(ctx, TestBucket, "data/part-0.txt", bytes.NewBufferString("a\nb"))
	require.NoError(t, err)
	assert.Equal("data/", obj.Prefix)
	assert.Equal("part-0.txt", obj.Name)

	stored, ok := srv.Object(TestBucket, "data/part-0.txt")
	require.True(t, ok)
	assert.Equal("a\nb", string(stored))

	body, err := client.GetObject(ctx, TestBucket, "data/part-0.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal("a\nb", string(data))

	r, ok := body.(*s3.ObjectReader)
	require.True(t, ok)
	assert.Equal(int64(3), r.BytesRead())
	assert.Equal(int64(3), r.Size())
	assert.NoError(body.Close())
	assert.NoError(body.Close())

	list, err := client.ListObjects(ctx, TestBucket, "data/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(s3.NewObject(TestBucket, "data/part-0.txt", 3), list[0])

	require.NoError(t, client.DeleteObject(ctx, TestBucket, "data/part-0.txt"))
	// deleting again is not an error even though the store answers NoSuchKey
	require.NoError(t, client.DeleteObject(ctx, TestBucket, "data/part-0.txt"))
	assert.Equal(2, srv.Calls("DeleteObject"))
	assert.Empty(srv.Keys(TestBucket))

	_, err = client.GetObject(ctx, TestBucket, "data/part-0.txt")
	var nsk *types.NoSuchKey
	assert.True(errors.As(err, &nsk), "want NoSuchKey, got %v", err)
}

func Test_DeleteObjectMissingBucket(t *testing.T) {
	srv, client := s3client_setup(t)
	srv.Deny("forbidden-bucket")
	ctx := context.Background()

	err := client.DeleteObject(ctx, "missing-bucket", "data/part-0.txt")
	require.Error(t, err)
	var re *awshttp.ResponseError
	require.True(t, errors.As(err, &re), "want a response error, got %v", err)
	assert.Equal(t, http.StatusNotFound, re.HTTPStatusCode())

	err = client.DeleteObject(ctx, "forbidden-bucket", "data/part-0.txt")
	require.True(t, errors.As(err, &re), "want a response error, got %v", err)
	assert.Equal(t, http.StatusForbidden, re.HTTPStatusCode())
}

func Test_UploadObjectMultipart(t *testing.T) {
	srv, client := s3client_setup(t)
	ctx := context.Background()

	// anything over the part size needs a second part
	data := bytes.Repeat([]byte("0123456789abcde\n"), 6*1024*1024/16+1)
	require.Greater(t, len(data), 6*1024*1024)

	_, err := client.UploadObject(ctx, TestBucket, "data/merged.txt", bytes.NewReader(data))
	require.NoError(t, err)

	stored, ok := srv.Object(TestBucket, "data/merged.txt")
	require.True(t, ok)
	assert.True(t, bytes.Equal(data, stored), "stored %d bytes, want %d", len(stored), len(data))
	assert.Equal(t, 1, srv.Calls("InitMultipart"))
	assert.Equal(t, 2, srv.Calls("UploadMultipartChunk"))
	assert.Equal(t, 1, srv.Calls("CompleteMultipart"))
	assert.Zero(t, srv.Calls("PutObject"))
	assert.Zero(t, srv.Uploads())
}

func Test_UploadObjectMissingBucket(t *testing.T) {
	srv, client := s3client_setup(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte{'x'}, 6*1024*1024)
	_, err := client.UploadObject(ctx, "missing-bucket", "data/merged.txt", bytes.NewReader(data))
	require.Error(t, err)
	assert.Zero(t, srv.Uploads())
	assert.Empty(t, srv.Keys(TestBucket))
}

func Test_CustomCABundle(t *testing.T) {
	dir := isolate(t)
	ctx := context.Background()

	srv := s3test.NewTLSServer(TestBucket)
	t.Cleanup(srv.Close)
	srv.PutObject(TestBucket, "data/part-0.txt", []byte("a\nb"))

	opt := s3.NewOption(
		s3.WithS3Address(srv.URL, true),
		s3.WithS3User(TestAccessKey, TestSecretKey, ""),
	)

	// the test certificate is unknown to the system pool
	untrusted, err := s3.NewS3Client(ctx, opt)
	require.NoError(t, err)
	defer untrusted.Close()
	_, err = untrusted.HeadBucket(ctx, TestBucket)
	require.Error(t, err)

	bundle := filepath.Join(dir, "ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(bundle, pemBytes, 0o600))
	t.Setenv("AWS_CA_BUNDLE", bundle)

	client, err := s3.NewS3Client(ctx, opt)
	require.NoError(t, err)
	defer client.Close()

	ok, err := client.HeadBucket(ctx, TestBucket)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := client.ListObjects(ctx, TestBucket, "data/")
	require.NoError(t, err)
	require.Len(t, list, 1)

	body, err := client.GetObject(ctx, TestBucket, "data/part-0.txt")
	require.NoError(t, err)
	defer body.Close()
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", string(got))
}

func Test_ListObjectsPages(t *testing.T) {
	srv, client := s3client_setup(t, s3.WithPageSize(2))
	ctx := context.Background()

	for i := 4; i >= 0; i-- {
		srv.PutObject(TestBucket, fmt.Sprintf("data/part-%d.txt", i), []byte{byte('0' + i)})
	}
	srv.PutObject(TestBucket, "other/part-9.txt", nil)

	list, err := client.ListObjects(ctx, TestBucket, "data/")
	require.NoError(t, err)

	var keys []string
	for _, o := range list {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{
		"data/part-0.txt",
		"data/part-1.txt",
		"data/part-2.txt",
		"data/part-3.txt",
		"data/part-4.txt",
	}, keys)
	assert.Equal(t, 3, srv.Calls("ListObjects"))

	all, err := client.ListObjects(ctx, TestBucket, "")
	require.NoError(t, err)
	assert.Len(t, all, 6)

	none, err := client.ListObjects(ctx, TestBucket, "missing/")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func Test_EmptyArguments(t *testing.T) {
	_, client := s3client_setup(t)
	ctx := context.Background()

	_, err := client.ListObjects(ctx, "", "data/")
	assert.ErrorIs(t, err, s3.ErrInvalidBucketName)
	_, err = client.GetObject(ctx, TestBucket, "")
	assert.ErrorIs(t, err, s3.ErrInvalidObjectKey)
	_, err = client.UploadObject(ctx, TestBucket, "", bytes.NewReader(nil))
	assert.ErrorIs(t, err, s3.ErrInvalidObjectKey)
	assert.ErrorIs(t, client.DeleteObject(ctx, "", "k"), s3.ErrInvalidBucketName)
}

func Test_NewObject(t *testing.T) {
	o := s3.NewObject(TestBucket, "a/b/c.txt", 7)
	assert.Equal(t, "a/b/", o.Prefix)
	assert.Equal(t, "c.txt", o.Name)

	o = s3.NewObject(TestBucket, "c.txt", 7)
	assert.Equal(t, "", o.Prefix)
	assert.Equal(t, "c.txt", o.Name)
}
