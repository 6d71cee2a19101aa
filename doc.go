// Copyright 2022 the go-s3merge Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This is a repository containing a tool that merges the part objects a
// batch job leaves under an S3 prefix into a single object, and removes
// the job's _SUCCESS markers.
//
// Go to https://godoc.org/github.com/ThierryZhou/go-s3merge/merger for the
// in-depth documentation for this library.
package lib
