// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backup

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// RemoteConfig locates an S3-compatible object store for snapshot
// mirroring.
type RemoteConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseTLS    bool
}

// MinioUploader mirrors snapshot files to an S3-compatible bucket.
type MinioUploader struct {
	client *minio.Client
	bucket string
}

var _ Uploader = (*MinioUploader)(nil)

// NewMinioUploader connects to the configured endpoint. The bucket must
// already exist; hivectl does not manage remote storage lifecycle.
func NewMinioUploader(cfg RemoteConfig) (*MinioUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object store %s: %w", cfg.Endpoint, err)
	}
	return &MinioUploader{client: client, bucket: cfg.Bucket}, nil
}

// Upload copies the local file to the bucket under key.
func (u *MinioUploader) Upload(ctx context.Context, localPath, key string) error {
	_, err := u.client.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/sql",
	})
	if err != nil {
		return fmt.Errorf("uploading %s to %s/%s: %w", localPath, u.bucket, key, err)
	}
	return nil
}
