package s3

// Object is one listed entry. Prefix and Name split Key at its last "/".
type Object struct {
	Bucket string
	Key    string
	Name   string
	Prefix string
	Size   int64
}
