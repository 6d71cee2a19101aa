package merger

import "errors"

var (
	// ErrInvalidArgument is returned before any store call when a
	// required argument is empty.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBucketNotFound  = errors.New("bucket not found")
	ErrPrefixNotFound  = errors.New("prefix not found")
	// ErrNoObjectsToMerge means the prefix has entries but none of them
	// starts with the initial name. Nothing has been deleted in that case
	// since only matching objects are deleted.
	ErrNoObjectsToMerge = errors.New("no objects to merge")
	// ErrInvalidEncoding means an input is not UTF-8 text. It is detected
	// before that input is deleted.
	ErrInvalidEncoding = errors.New("invalid utf-8")
)
