package s3test

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pachyderm/s2"
	"github.com/sirupsen/logrus"
)

type object struct {
	data    []byte
	etag    string
	modTime time.Time
}

type upload struct {
	bucket    string
	key       string
	initiated time.Time
	parts     map[int]*object
}

// controller keeps buckets, objects and in-flight multipart uploads in
// memory and serves them to s2.
type controller struct {
	logger *logrus.Entry

	mu      sync.Mutex
	buckets map[string]map[string]*object
	created map[string]time.Time
	uploads map[string]*upload
	denied  map[string]bool
	calls   map[string]int
}

func newController(logger *logrus.Entry) *controller {
	return &controller{
		logger:  logger,
		buckets: map[string]map[string]*object{},
		created: map[string]time.Time{},
		uploads: map[string]*upload{},
		denied:  map[string]bool{},
		calls:   map[string]int{},
	}
}

func newObject(data []byte) *object {
	sum := md5.Sum(data)
	return &object{
		data:    data,
		etag:    hex.EncodeToString(sum[:]),
		modTime: time.Now(),
	}
}

// bucket must be called with mu held. It counts op and resolves name.
func (c *controller) bucket(r *http.Request, op, name string) (map[string]*object, error) {
	c.calls[op]++
	c.logger.Tracef("%s: bucket=%s", op, name)

	if c.denied[name] {
		return nil, s2.AccessDeniedError(r)
	}
	objects, ok := c.buckets[name]
	if !ok {
		return nil, s2.NoSuchBucketError(r)
	}
	return objects, nil
}

func (c *controller) ListBuckets(r *http.Request) (*s2.ListBucketsResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["ListBuckets"]++

	result := &s2.ListBucketsResult{
		Owner:   &defaultUser,
		Buckets: []*s2.Bucket{},
	}
	for name, created := range c.created {
		if c.denied[name] {
			continue
		}
		result.Buckets = append(result.Buckets, &s2.Bucket{Name: name, CreationDate: created})
	}
	sort.Slice(result.Buckets, func(i, j int) bool {
		return result.Buckets[i].Name < result.Buckets[j].Name
	})
	return result, nil
}

func (c *controller) GetLocation(r *http.Request, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.bucket(r, "GetLocation", name); err != nil {
		return "", err
	}
	return "", nil
}

// ListObjects returns the keys after marker in lexical order. Delimiters
// are not supported.
func (c *controller) ListObjects(r *http.Request, name, prefix, marker, delimiter string, maxKeys int) (*s2.ListObjectsResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	objects, err := c.bucket(r, "ListObjects", name)
	if err != nil {
		return nil, err
	}
	if delimiter != "" {
		return nil, s2.NotImplementedError(r)
	}

	result := &s2.ListObjectsResult{
		Contents:       []*s2.Contents{},
		CommonPrefixes: []*s2.CommonPrefixes{},
	}
	for _, key := range sortedKeys(objects, prefix) {
		if key <= marker {
			continue
		}
		if len(result.Contents) >= maxKeys {
			result.IsTruncated = maxKeys > 0
			break
		}
		obj := objects[key]
		result.Contents = append(result.Contents, &s2.Contents{
			Key:          key,
			LastModified: obj.modTime,
			ETag:         obj.etag,
			Size:         uint64(len(obj.data)),
			StorageClass: "STANDARD",
			Owner:        defaultUser,
		})
	}
	return result, nil
}

func (c *controller) ListObjectVersions(r *http.Request, name, prefix, keyMarker, versionMarker string, delimiter string, maxKeys int) (*s2.ListObjectVersionsResult, error) {
	return nil, s2.NotImplementedError(r)
}

func (c *controller) CreateBucket(r *http.Request, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["CreateBucket"]++

	if _, ok := c.buckets[name]; ok {
		return s2.BucketAlreadyOwnedByYouError(r)
	}
	c.buckets[name] = map[string]*object{}
	c.created[name] = time.Now()
	return nil
}

func (c *controller) DeleteBucket(r *http.Request, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	objects, err := c.bucket(r, "DeleteBucket", name)
	if err != nil {
		return err
	}
	if len(objects) > 0 {
		return s2.BucketNotEmptyError(r)
	}
	delete(c.buckets, name)
	delete(c.created, name)
	return nil
}

func (c *controller) GetBucketVersioning(r *http.Request, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.bucket(r, "GetBucketVersioning", name); err != nil {
		return "", err
	}
	return s2.VersioningDisabled, nil
}

func (c *controller) SetBucketVersioning(r *http.Request, name, status string) error {
	return s2.NotImplementedError(r)
}

func (c *controller) GetObject(r *http.Request, name, key, version string) (*s2.GetObjectResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	objects, err := c.bucket(r, "GetObject", name)
	if err != nil {
		return nil, err
	}
	obj, ok := objects[key]
	if !ok {
		return nil, s2.NoSuchKeyError(r)
	}
	return &s2.GetObjectResult{
		ETag:    obj.etag,
		ModTime: obj.modTime,
		Content: bytes.NewReader(obj.data),
	}, nil
}

func (c *controller) CopyObject(r *http.Request, srcBucket, srcKey string, getResult *s2.GetObjectResult, destBucket, destKey string) (string, error) {
	return "", s2.NotImplementedError(r)
}

func (c *controller) PutObject(r *http.Request, name, key string, reader io.Reader) (*s2.PutObjectResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	objects, err := c.bucket(r, "PutObject", name)
	if err != nil {
		return nil, err
	}
	obj := newObject(data)
	objects[key] = obj
	return &s2.PutObjectResult{ETag: obj.etag}, nil
}

// DeleteObject answers NoSuchKey for a missing key, as some S3 compatible
// stores do.
func (c *controller) DeleteObject(r *http.Request, name, key, version string) (*s2.DeleteObjectResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	objects, err := c.bucket(r, "DeleteObject", name)
	if err != nil {
		return nil, err
	}
	if _, ok := objects[key]; !ok {
		return nil, s2.NoSuchKeyError(r)
	}
	delete(objects, key)
	return &s2.DeleteObjectResult{}, nil
}

func (c *controller) ListMultipart(r *http.Request, name, keyMarker, uploadIDMarker string, maxUploads int) (*s2.ListMultipartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.bucket(r, "ListMultipart", name); err != nil {
		return nil, err
	}

	result := &s2.ListMultipartResult{Uploads: []*s2.Upload{}}
	for id, u := range c.uploads {
		if u.bucket != name {
			continue
		}
		result.Uploads = append(result.Uploads, &s2.Upload{
			Key:          u.key,
			UploadID:     id,
			Initiator:    defaultUser,
			Owner:        defaultUser,
			StorageClass: "STANDARD",
			Initiated:    u.initiated,
		})
	}
	sort.Slice(result.Uploads, func(i, j int) bool {
		a, b := result.Uploads[i], result.Uploads[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.UploadID < b.UploadID
	})

	start := 0
	for i, u := range result.Uploads {
		if u.Key < keyMarker || (u.Key == keyMarker && u.UploadID <= uploadIDMarker) {
			start = i + 1
		}
	}
	result.Uploads = result.Uploads[start:]
	if len(result.Uploads) > maxUploads {
		result.Uploads = result.Uploads[:maxUploads]
		result.IsTruncated = true
	}
	return result, nil
}

func (c *controller) InitMultipart(r *http.Request, name, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.bucket(r, "InitMultipart", name); err != nil {
		return "", err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	c.uploads[id.String()] = &upload{
		bucket:    name,
		key:       key,
		initiated: time.Now(),
		parts:     map[int]*object{},
	}
	return id.String(), nil
}

// findUpload must be called with mu held.
func (c *controller) findUpload(r *http.Request, op, name, key, uploadID string) (*upload, error) {
	if _, err := c.bucket(r, op, name); err != nil {
		return nil, err
	}
	u, ok := c.uploads[uploadID]
	if !ok || u.bucket != name || u.key != key {
		return nil, s2.NoSuchUploadError(r)
	}
	return u, nil
}

func (c *controller) AbortMultipart(r *http.Request, name, key, uploadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.findUpload(r, "AbortMultipart", name, key, uploadID); err != nil {
		return err
	}
	delete(c.uploads, uploadID)
	return nil
}

// CompleteMultipart joins the listed parts in order. Parts uploaded but not
// listed are dropped with the upload.
func (c *controller) CompleteMultipart(r *http.Request, name, key, uploadID string, parts []*s2.Part) (*s2.CompleteMultipartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := c.findUpload(r, "CompleteMultipart", name, key, uploadID)
	if err != nil {
		return nil, err
	}

	var (
		data  bytes.Buffer
		etags bytes.Buffer
	)
	for _, part := range parts {
		chunk, ok := u.parts[part.PartNumber]
		if !ok || chunk.etag != strings.Trim(part.ETag, `"`) {
			return nil, s2.InvalidPartError(r)
		}
		data.Write(chunk.data)
		sum, err := hex.DecodeString(chunk.etag)
		if err != nil {
			return nil, s2.InternalError(r, err)
		}
		etags.Write(sum)
	}

	obj := newObject(data.Bytes())
	sum := md5.Sum(etags.Bytes())
	obj.etag = fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:]), len(parts))

	c.buckets[name][key] = obj
	delete(c.uploads, uploadID)
	return &s2.CompleteMultipartResult{
		Location: "/" + name + "/" + key,
		ETag:     obj.etag,
	}, nil
}

func (c *controller) ListMultipartChunks(r *http.Request, name, key, uploadID string, partNumberMarker, maxParts int) (*s2.ListMultipartChunksResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := c.findUpload(r, "ListMultipartChunks", name, key, uploadID)
	if err != nil {
		return nil, err
	}

	numbers := make([]int, 0, len(u.parts))
	for n := range u.parts {
		if n > partNumberMarker {
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)

	result := &s2.ListMultipartChunksResult{
		Initiator:    &defaultUser,
		Owner:        &defaultUser,
		StorageClass: "STANDARD",
		Parts:        []*s2.Part{},
	}
	for _, n := range numbers {
		if len(result.Parts) >= maxParts {
			result.IsTruncated = true
			break
		}
		result.Parts = append(result.Parts, &s2.Part{PartNumber: n, ETag: u.parts[n].etag})
	}
	return result, nil
}

func (c *controller) UploadMultipartChunk(r *http.Request, name, key, uploadID string, partNumber int, reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := c.findUpload(r, "UploadMultipartChunk", name, key, uploadID)
	if err != nil {
		return "", err
	}
	part := newObject(data)
	u.parts[partNumber] = part
	return part.etag, nil
}

var defaultUser = s2.User{ID: "s3test", DisplayName: "s3test"}

func sortedKeys(objects map[string]*object, prefix string) []string {
	var keys []string
	for k := range objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
