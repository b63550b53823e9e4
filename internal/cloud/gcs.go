// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cloud

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/storage"
)

const gcsScheme = "gs://"

// GCSObject identifies an object in Cloud Storage.
type GCSObject struct {
	Bucket   string
	Name     string
	MIMEType string
}

// URI renders the object as gs://bucket/name.
func (o GCSObject) URI() string {
	return gcsScheme + o.Bucket + "/" + o.Name
}

// IsGCSURI reports whether uri uses the gs:// scheme.
func IsGCSURI(uri string) bool {
	return strings.HasPrefix(uri, gcsScheme)
}

// ParseGCSURI splits gs://bucket/name into its parts.
func ParseGCSURI(uri string) (GCSObject, error) {
	if !IsGCSURI(uri) {
		return GCSObject{}, fmt.Errorf("not a gcs uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, gcsScheme)
	bucket, name, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || name == "" {
		return GCSObject{}, fmt.Errorf("gcs uri needs a bucket and an object name: %q", uri)
	}
	return GCSObject{Bucket: bucket, Name: name}, nil
}

// DownloadObject copies an object to a local file and returns the bytes
// written. A partial file is removed on failure.
func DownloadObject(ctx context.Context, client *storage.Client, obj GCSObject, dst string) (int64, error) {
	reader, err := client.Bucket(obj.Bucket).Object(obj.Name).NewReader(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to create GCS reader for %s: %w", obj.URI(), err)
	}
	defer func(reader *storage.Reader) {
		if err := reader.Close(); err != nil {
			slog.Warn("failed to close GCS reader", "object", obj.URI(), "error", err)
		}
	}(reader)

	file, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("could not create %s: %w", dst, err)
	}
	written, err := io.Copy(file, reader)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return written, fmt.Errorf("failed to copy %s to %s after %d bytes: %w", obj.URI(), dst, written, err)
	}
	return written, nil
}

// UploadFile writes a local file to obj. The object only becomes visible
// when the writer closes without error.
func UploadFile(ctx context.Context, client *storage.Client, src string, obj GCSObject) (int64, error) {
	file, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open file %s: %w", src, err)
	}
	defer func() { _ = file.Close() }()

	writer := client.Bucket(obj.Bucket).Object(obj.Name).NewWriter(ctx)
	if obj.MIMEType != "" {
		writer.ContentType = obj.MIMEType
	}
	written, err := io.Copy(writer, file)
	if err != nil {
		_ = writer.Close()
		return written, fmt.Errorf("failed to copy to %s, %d bytes written: %w", obj.URI(), written, err)
	}
	if err := writer.Close(); err != nil {
		return written, fmt.Errorf("failed to finalize %s: %w", obj.URI(), err)
	}
	return written, nil
}
