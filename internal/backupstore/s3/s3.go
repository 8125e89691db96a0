// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package s3 implements a backup store on an S3 compatible object store.
package s3

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/juju/errors"

	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/internal/backupstore"
)

// Client is the subset of the S3 API used by the store.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config describes how to reach the object store.
type Config struct {
	// Endpoint is the base URL of an S3 compatible service. It is empty
	// for AWS itself.
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string

	// PathStyle addresses buckets by path rather than by host name, as
	// most non-AWS implementations require.
	PathStyle bool
}

// Validate returns an error if the config is not usable.
func (c Config) Validate() error {
	if c.Region == "" {
		return errors.NotValidf("empty Region")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return errors.NotValidf("partial static credentials")
	}
	return nil
}

// NewClient returns an S3 client for the given config. Without static
// credentials the default AWS credential chain is used.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "loading aws config")
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// Store is a backupstore.Store keeping objects in one bucket, below an
// optional key prefix.
type Store struct {
	client Client
	bucket string
	prefix string
	logger logger.Logger
}

// NewStore returns a store writing to bucket. Every key is stored below
// prefix, which may be empty.
func NewStore(client Client, bucket, prefix string, logger logger.Logger) *Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// Put is part of backupstore.Store.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.prefix + key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return s.mapError(err, "putting %q", key)
	}
	s.logger.Tracef("put %d bytes to s3://%s/%s%s", len(data), s.bucket, s.prefix, key)
	return nil
}

// Get is part of backupstore.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		return nil, s.mapError(err, "getting %q", key)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, backupstore.Unavailablef("reading %q: %v", key, err)
	}
	return data, nil
}

// List is part of backupstore.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + prefix),
	})
	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.mapError(err, "listing %q", prefix)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), s.prefix))
		}
	}
	return keys, nil
}

func (s *Store) mapError(err error, format string, args ...any) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return errors.NewNotFound(err, "")
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return errors.NewNotFound(err, "")
		case "NoSuchBucket":
			s.logger.Errorf("bucket %q does not exist", s.bucket)
		}
	}
	args = append(args, err)
	return backupstore.Unavailablef(format+": %v", args...)
}
