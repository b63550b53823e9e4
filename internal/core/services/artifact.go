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

package services

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
)

// ArtifactService stores finished films in GCS and hands out signed URLs
// for them.
type ArtifactService struct {
	StorageClient *storage.Client
	IAMClient     *credentials.IamCredentialsClient
	SignerEmail   string // service account that signs the URLs
	Bucket        string
	Prefix        string // object prefix, "films" when empty
}

// ObjectFor returns where the film of runId is stored.
func (s *ArtifactService) ObjectFor(runId string) cloud.GCSObject {
	prefix := strings.Trim(s.Prefix, "/")
	if prefix == "" {
		prefix = "films"
	}
	return cloud.GCSObject{Bucket: s.Bucket, Name: path.Join(prefix, runId+".mp4"), MIMEType: "video/mp4"}
}

// Upload copies the local film to gs://<bucket>/<prefix>/<runId>.mp4 and
// returns that URI.
func (s *ArtifactService) Upload(ctx context.Context, runId string, localPath string) (string, error) {
	if s.Bucket == "" {
		return "", fmt.Errorf("no film bucket configured")
	}
	obj := s.ObjectFor(runId)
	if _, err := cloud.UploadFile(ctx, s.StorageClient, localPath, obj); err != nil {
		return "", fmt.Errorf("failed to upload film %s: %w", runId, err)
	}
	return obj.URI(), nil
}

// SignedURL creates a V4 signed GET URL for a gs:// URI. The signature is
// produced by the IAM credentials API so no key file is needed.
func (s *ArtifactService) SignedURL(ctx context.Context, gcsURI string, expires time.Duration) (string, error) {
	obj, err := cloud.ParseGCSURI(gcsURI)
	if err != nil {
		return "", err
	}
	if s.SignerEmail == "" {
		return "", fmt.Errorf("no signer service account configured")
	}
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        time.Now().Add(expires),
		GoogleAccessID: s.SignerEmail,
		SignBytes: func(b []byte) ([]byte, error) {
			req := &credentialspb.SignBlobRequest{
				Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", s.SignerEmail),
				Payload: b,
			}
			resp, err := s.IAMClient.SignBlob(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("IAMClient.SignBlob: %w", err)
			}
			return resp.SignedBlob, nil
		},
	}
	u, err := s.StorageClient.Bucket(obj.Bucket).SignedURL(obj.Name, opts)
	if err != nil {
		return "", fmt.Errorf("Bucket(%q).Object(%q).SignedURL: %w", obj.Bucket, obj.Name, err)
	}
	return u, nil
}
