// Copyright 2022 the go-s3merge Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s3

import (
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Option describes how to reach the object store. An empty URL means the
// regular AWS endpoint resolution for Region.
type Option struct {
	URL       string `json:"url"`
	Region    string `json:"region"`
	AccessKey string `json:"accesskey"`
	SecretKey string `json:"secretkey"`
	Token     string `json:"token"`
	Profile   string `json:"profile"`
	PathStyle bool   `json:"pathstyle"`
	PageSize  int32  `json:"pagesize"`
	PartSize  int64  `json:"partsize"`
	Debug     bool   `json:"debug"`
}

const (
	defaultRegion   = "us-east-1"
	defaultPageSize = 1000
	// the manager refuses parts below 5 MiB
	minPartSize = 5 * 1024 * 1024
)

func defaultOption() Option {
	return Option{
		Region:   defaultRegion,
		PageSize: defaultPageSize,
		PartSize: minPartSize,
	}
}

type OptionFunc func(*Option)

func WithS3Address(endpoint string, pathStyle bool) OptionFunc {
	return func(o *Option) {
		o.URL = endpoint
		o.PathStyle = pathStyle
	}
}

func WithS3User(accessKey, secretKey, token string) OptionFunc {
	return func(o *Option) {
		o.AccessKey = accessKey
		o.SecretKey = secretKey
		o.Token = token
	}
}

func WithRegion(region string) OptionFunc {
	return func(o *Option) {
		o.Region = region
	}
}

func WithPageSize(n int32) OptionFunc {
	return func(o *Option) {
		o.PageSize = n
	}
}

// NewOption returns the defaults with fns applied in order.
func NewOption(fns ...OptionFunc) *Option {
	o := defaultOption()
	for _, fn := range fns {
		fn(&o)
	}
	o.sanitize()
	return &o
}

// ParseOption reads a "key=value,key=value" connection string such as
// "url=http://minio:9000,accesskey=minio,secretkey=minio111,pathstyle=true".
// Unknown keys and malformed entries are skipped.
func ParseOption(args string) *Option {
	o := defaultOption()
	o.Overlay(args)
	return &o
}

// Overlay applies the entries of a connection string on top of o.
func (o *Option) Overlay(args string) {
	if args == "" {
		return
	}

	entries := strings.Split(args, ",")
	for _, e := range entries {
		parts := strings.SplitN(strings.TrimSpace(e), "=", 2)
		if len(parts) != 2 {
			log.Debugf("skip s3 option %q", e)
			continue
		}
		key, value := strings.ToLower(parts[0]), parts[1]
		switch key {
		case "url", "endpoint":
			o.URL = value
		case "region":
			o.Region = value
		case "accesskey":
			o.AccessKey = value
		case "secretkey":
			o.SecretKey = value
		case "token":
			o.Token = value
		case "profile":
			o.Profile = value
		case "pathstyle":
			o.PathStyle = parseBool(key, value, o.PathStyle)
		case "debug":
			o.Debug = parseBool(key, value, o.Debug)
		case "pagesize":
			if n, err := strconv.ParseInt(value, 10, 32); err == nil {
				o.PageSize = int32(n)
			} else {
				log.Warnf("invalid s3 option %s=%s: %v", key, value, err)
			}
		case "partsize":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				o.PartSize = n
			} else {
				log.Warnf("invalid s3 option %s=%s: %v", key, value, err)
			}
		default:
			log.Debugf("unknown s3 option %q", key)
		}
	}
	o.sanitize()
}

// OptionFromViper reads the "s3.*" keys of v.
func OptionFromViper(v *viper.Viper) *Option {
	o := defaultOption()

	if s := v.GetString("s3.url"); s != "" {
		o.URL = s
	}
	if s := v.GetString("s3.region"); s != "" {
		o.Region = s
	}
	o.AccessKey = v.GetString("s3.accesskey")
	o.SecretKey = v.GetString("s3.secretkey")
	o.Token = v.GetString("s3.token")
	o.Profile = v.GetString("s3.profile")
	o.PathStyle = v.GetBool("s3.pathstyle")
	o.Debug = v.GetBool("s3.debug")
	if v.IsSet("s3.pagesize") {
		o.PageSize = v.GetInt32("s3.pagesize")
	}
	if v.IsSet("s3.partsize") {
		o.PartSize = v.GetInt64("s3.partsize")
	}
	o.sanitize()

	return &o
}

func (o *Option) sanitize() {
	if o.Region == "" {
		o.Region = defaultRegion
	}
	if o.PageSize <= 0 || o.PageSize > defaultPageSize {
		o.PageSize = defaultPageSize
	}
	if o.PartSize < minPartSize {
		o.PartSize = minPartSize
	}
}

func parseBool(key, value string, fallback bool) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warnf("invalid s3 option %s=%s: %v", key, value, err)
		return fallback
	}
	return b
}
