// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/storage"
)

// OpenSnapshot opens a catalog snapshot from either a local filesystem path
// or a gs://bucket/object URI. A gs:// URI is fetched once into a local
// temp file (via cloud.google.com/go/storage) before opening — a deployment
// convenience for environments that publish the offline-built snapshot to
// object storage; it does not reintroduce the ingestion pipeline, which
// still only ever produces the snapshot, never consumes it.
func OpenSnapshot(ctx context.Context, pathOrURI string, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if !strings.HasPrefix(pathOrURI, "gs://") {
		return Open(pathOrURI, logger)
	}

	localPath, err := fetchFromGCS(ctx, pathOrURI, logger)
	if err != nil {
		return nil, err
	}
	return Open(localPath, logger)
}

// fetchFromGCS downloads a gs://bucket/object URI to a local temp file and
// returns the temp file's path.
func fetchFromGCS(ctx context.Context, uri string, logger *slog.Logger) (string, error) {
	bucket, object, err := parseGCSURI(uri)
	if err != nil {
		return "", err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("catalog: gcs client: %w", err)
	}
	defer client.Close()

	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("catalog: gcs open %s: %w", uri, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "mbmapper-snapshot-*.db")
	if err != nil {
		return "", fmt.Errorf("catalog: create temp file: %w", err)
	}
	defer tmp.Close()

	n, err := io.Copy(tmp, rc)
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("catalog: gcs download %s: %w", uri, err)
	}

	logger.Info("catalog snapshot fetched from GCS",
		slog.String("uri", uri),
		slog.String("local_path", tmp.Name()),
		slog.Int64("bytes", n),
	)
	return tmp.Name(), nil
}

// parseGCSURI splits a gs://bucket/object URI into its bucket and object
// components.
func parseGCSURI(uri string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("catalog: malformed gs:// URI %q", uri)
	}
	return parts[0], parts[1], nil
}
