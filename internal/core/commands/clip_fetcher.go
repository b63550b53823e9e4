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

package commands

import (
	goctx "context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-short-film/internal/cloud"
	"github.com/jaycherian/gcp-go-short-film/internal/core/assembly"
	"github.com/jaycherian/gcp-go-short-film/internal/core/cor"
	"github.com/jaycherian/gcp-go-short-film/internal/core/model"
	"github.com/jaycherian/gcp-go-short-film/internal/core/services"
	"golang.org/x/sync/errgroup"
)

// ClipFetcher opens the assembly stage. It creates the run's scratch
// directory and downloads the clip of every ready scene into it, in beat
// order.
//
// Logic Flow:
//  1. The ready scenes are listed from the store, so a resumed run sees the
//     clips rendered by an earlier worker.
//  2. Each clip is fetched from gs://, http(s):// or file:// into a
//     file named after its beat.
//  3. The content type is sniffed and the file renamed to the matching
//     extension; ffmpeg picks its demuxer from it. Anything that is not a
//     video is dropped with a warning.
//  4. The clips, in beat order, and the ready scenes are left in the
//     context for the next commands.
type ClipFetcher struct {
	StageCommand
	storageClient *storage.Client
	httpClient    *http.Client
	scratchRoot   string
	workers       int
}

func NewClipFetcher(name string, store services.RunStore, storageClient *storage.Client, scratchRoot string, workers int) *ClipFetcher {
	if workers <= 0 {
		workers = 4
	}
	return &ClipFetcher{
		StageCommand:  NewStageCommand(name, model.StageAssembling, store),
		storageClient: storageClient,
		httpClient:    http.DefaultClient,
		scratchRoot:   scratchRoot,
		workers:       workers,
	}
}

func (c *ClipFetcher) Execute(context cor.Context) {
	run := RunFrom(context)
	ctx := context.GetContext()

	scenes, err := c.Store.ListScenes(ctx, run.Id)
	if err != nil {
		c.fail(context, "failed to list scenes", err)
		return
	}
	ready := make([]*model.SceneRecord, 0, len(scenes))
	for _, s := range scenes {
		if s.Status == model.RenderReady && strings.TrimSpace(s.Url) != "" {
			ready = append(ready, s)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].BeatIndex < ready[j].BeatIndex })
	if len(ready) == 0 {
		c.fail(context, fmt.Sprintf("run %s", run.Id), model.ErrNoScenesRendered)
		return
	}

	dir, err := os.MkdirTemp(c.scratchRoot, fmt.Sprintf("film-%s-", run.Id))
	if err != nil {
		c.fail(context, "could not create scratch directory", err)
		return
	}
	context.AddTempDir(dir)
	context.Add(ParamScratchDir, dir)

	var mu sync.Mutex
	clips := make([]assembly.Clip, 0, len(ready))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.workers)
	for _, s := range ready {
		eg.Go(func() error {
			path, err := c.fetch(egCtx, s, dir)
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				slog.Warn("clip dropped", "run_id", run.Id, "beat", s.BeatIndex, "url", s.Url, "error", err)
				return nil
			}
			mu.Lock()
			clips = append(clips, assembly.Clip{BeatIndex: s.BeatIndex, Path: path})
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		c.fail(context, "clip download interrupted", err)
		return
	}
	if len(clips) == 0 {
		c.fail(context, "no clip could be downloaded", model.ErrNoScenesRendered)
		return
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].BeatIndex < clips[j].BeatIndex })

	slog.Info("clips fetched", "run_id", run.Id, "clips", len(clips), "ready_scenes", len(ready))
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(ParamScenes, ready)
	context.Add(ParamClips, clips)
}

// fetch downloads one clip and names it after its detected type.
func (c *ClipFetcher) fetch(ctx goctx.Context, s *model.SceneRecord, dir string) (string, error) {
	raw := filepath.Join(dir, fmt.Sprintf("clip_%03d", s.BeatIndex))
	if err := c.download(ctx, s.Url, raw); err != nil {
		return "", err
	}
	kind, err := filetype.MatchFile(raw)
	if err != nil {
		return "", fmt.Errorf("could not sniff %s: %w", raw, err)
	}
	if !strings.HasPrefix(kind.MIME.Value, "video/") {
		_ = os.Remove(raw)
		return "", fmt.Errorf("clip is %q, not a video", kind.MIME.Value)
	}
	named := raw + "." + kind.Extension
	if err := os.Rename(raw, named); err != nil {
		return "", err
	}
	return named, nil
}

func (c *ClipFetcher) download(ctx goctx.Context, url string, dst string) error {
	switch {
	case cloud.IsGCSURI(url):
		if c.storageClient == nil {
			return fmt.Errorf("no storage client for %s", url)
		}
		obj, err := cloud.ParseGCSURI(url)
		if err != nil {
			return err
		}
		_, err = cloud.DownloadObject(ctx, c.storageClient, obj, dst)
		return err
	case strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("GET %s: %s", url, resp.Status)
		}
		return writeFile(dst, resp.Body)
	case strings.HasPrefix(url, "file://"):
		src, err := os.Open(strings.TrimPrefix(url, "file://"))
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		return writeFile(dst, src)
	}
	return fmt.Errorf("unsupported clip url %q", url)
}

func writeFile(dst string, r io.Reader) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
