package s3

import "fmt"

var (
	ErrInvalidBucketName error = fmt.Errorf("Invalid Bucket Name")
	ErrInvalidObjectKey  error = fmt.Errorf("Invalid Object Key")
)
