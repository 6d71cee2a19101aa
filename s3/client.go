// Copyright 2022 the go-s3merge Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/logging"
)

// Client is a thin wrapper around the S3 API exposing the handful of
// calls the merger needs. Calls are never retried.
type Client struct {
	client     *s3v2.Client
	uploader   *manager.Uploader
	httpClient *http.Client
	pageSize   int32
}

// logrusLogger routes SDK log output through logrus.
type logrusLogger struct{}

func (logrusLogger) Logf(classification logging.Classification, format string, v ...interface{}) {
	switch classification {
	case logging.Warn:
		log.Warnf(format, v...)
	default:
		log.Debugf(format, v...)
	}
}

func NewS3Client(ctx context.Context, o *Option) (*Client, error) {
	if o == nil {
		o = NewOption()
	}

	// AWS_CA_BUNDLE can only be applied to a BuildableClient
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(o.Region),
		config.WithHTTPClient(awshttp.NewBuildableClient()),
		config.WithRetryer(func() aws.Retryer {
			return aws.NopRetryer{}
		}),
		config.WithLogger(logrusLogger{}),
	}
	if o.Debug {
		opts = append(opts, config.WithClientLogMode(aws.LogRequest|aws.LogResponse))
	}
	if o.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(o.Profile))
	}
	if o.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, o.Token))))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	httpClient, err := pinHTTPClient(cfg.HTTPClient)
	if err != nil {
		return nil, err
	}
	cfg.HTTPClient = httpClient

	client := s3v2.NewFromConfig(cfg, func(so *s3v2.Options) {
		if o.URL != "" {
			so.BaseEndpoint = aws.String(o.URL)
		}
		so.UsePathStyle = o.PathStyle
		so.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		so.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.Concurrency = 1
		u.PartSize = o.PartSize
		u.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &Client{
		client:     client,
		uploader:   uploader,
		httpClient: httpClient,
		pageSize:   o.PageSize,
	}, nil
}

// pinHTTPClient turns the resolved SDK client into a plain *http.Client
// holding the transport every request goes through, CA bundle included,
// so that Close can drop its idle connections.
func pinHTTPClient(c aws.HTTPClient) (*http.Client, error) {
	switch hc := c.(type) {
	case *awshttp.BuildableClient:
		return &http.Client{
			Timeout:   hc.GetTimeout(),
			Transport: hc.GetTransport(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}, nil
	case *http.Client:
		return hc, nil
	default:
		return nil, fmt.Errorf("unsupported http client %T", c)
	}
}

// isNotFound reports whether err is the store saying the addressed
// bucket or object does not exist.
func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsb *types.NoSuchBucket
	var re *awshttp.ResponseError
	switch {
	case errors.As(err, &nf), errors.As(err, &nsb):
		return true
	case errors.As(err, &re):
		return re.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

func logError(op, bucket, key string, err error) {
	var nsb *types.NoSuchBucket
	var nsk *types.NoSuchKey
	switch {
	case errors.As(err, &nsb):
		log.Warnf("%s Object(%s) in Bucket(%s) with AWS S3 Error: %s", op, key, bucket, aws.ToString(nsb.Message))
	case errors.As(err, &nsk):
		log.Warnf("%s Object(%s) in Bucket(%s) with AWS S3 Error: %s", op, key, bucket, aws.ToString(nsk.Message))
	default:
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			log.Warnf("%s Object(%s) in Bucket(%s) with Unknown Error:%s", op, key, bucket, apiErr.ErrorMessage())
		} else {
			log.Warnf("%s Object(%s) in Bucket(%s) failure, %v", op, key, bucket, err)
		}
	}
}

// HeadBucket returns false and no error when the store answers 404.
func (c *Client) HeadBucket(ctx context.Context, bucket string) (bool, error) {
	if bucket == "" {
		return false, ErrInvalidBucketName
	}

	input := &s3v2.HeadBucketInput{
		Bucket: aws.String(bucket),
	}

	_, err := c.client.HeadBucket(ctx, input)
	if err != nil {
		if isNotFound(err) {
			log.Warnf("Head Bucket(%s): NoSuchBucket", bucket)
			return false, nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			log.Warnf("Head Bucket(%s) with Error:%s", bucket, apiErr.ErrorMessage())
		}
		return false, err
	}

	return true, nil
}

// ListObjects returns every object whose key starts with prefix, in the
// order the store lists them. Pages are walked with the version 1 marker
// so that stores without ListObjectsV2 are served too.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	if bucket == "" {
		return nil, ErrInvalidBucketName
	}

	input := &s3v2.ListObjectsInput{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(c.pageSize),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var list []Object
	for {
		out, err := c.client.ListObjects(ctx, input)
		if err != nil {
			logError("List", bucket, prefix, err)
			return nil, err
		}
		for _, item := range out.Contents {
			list = append(list, NewObject(bucket, aws.ToString(item.Key), aws.ToInt64(item.Size)))
		}

		if !aws.ToBool(out.IsTruncated) || len(out.Contents) == 0 {
			break
		}
		// NextMarker is only guaranteed when a delimiter is set
		marker := aws.ToString(out.NextMarker)
		if marker == "" {
			marker = aws.ToString(out.Contents[len(out.Contents)-1].Key)
		}
		if marker == aws.ToString(input.Marker) {
			return nil, fmt.Errorf("list %s/%s: marker %q did not advance", bucket, prefix, marker)
		}
		input.Marker = aws.String(marker)
	}

	return list, nil
}

// GetObject opens the body of bucket/key. The returned reader is an
// *ObjectReader and must be closed by the caller.
func (c *Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if bucket == "" {
		return nil, ErrInvalidBucketName
	}
	if key == "" {
		return nil, ErrInvalidObjectKey
	}

	input := &s3v2.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}

	out, err := c.client.GetObject(ctx, input)
	if err != nil {
		logError("Get", bucket, key, err)
		return nil, err
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}

	return newObjectReader(out.Body, bucket, key, size), nil
}

// UploadObject writes body to bucket/key, replacing any existing object.
func (c *Client) UploadObject(ctx context.Context, bucket, key string, body io.Reader) (*Object, error) {
	if bucket == "" {
		return nil, ErrInvalidBucketName
	}
	if key == "" {
		return nil, ErrInvalidObjectKey
	}

	input := &s3v2.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}

	_, err := c.uploader.Upload(ctx, input)
	if err != nil {
		var multierr manager.MultiUploadFailure
		if errors.As(err, &multierr) {
			log.Warnf("Upload Object(%s) in Bucket(%s) failure UploadID=%s, %s", key, bucket, multierr.UploadID(), multierr.Error())
		} else {
			logError("Upload", bucket, key, err)
		}
		return nil, err
	}

	obj := NewObject(bucket, key, -1)
	return &obj, nil
}

// isNoSuchKey reports whether err is the store answering NoSuchKey. The
// SDK does not model that error for every operation, so the code is
// checked as well.
func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey"
}

// DeleteObject removes bucket/key. Deleting a missing key succeeds; a
// missing bucket does not.
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	if bucket == "" {
		return ErrInvalidBucketName
	}
	if key == "" {
		return ErrInvalidObjectKey
	}

	input := &s3v2.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}

	_, err := c.client.DeleteObject(ctx, input)
	if err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		logError("Delete", bucket, key, err)
		return err
	}

	return nil
}

// Close drops the idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// NewObject splits key at its last "/" into Prefix and Name.
func NewObject(bucket, key string, size int64) Object {
	i := strings.LastIndex(key, "/")
	return Object{
		Bucket: bucket,
		Key:    key,
		Prefix: key[:i+1],
		Name:   key[i+1:],
		Size:   size,
	}
}
