// Copyright 2022 the go-s3merge Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This is main program driver for s3merge, which merges the part objects
// of a batch job stored under an S3 prefix into a single object.
package main

import "github.com/ThierryZhou/go-s3merge/cmd"

func main() {
	cmd.Execute()
}
