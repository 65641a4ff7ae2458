package library

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/samber/mo"
	"github.com/spf13/afero"
)

// Download fetches the episode audio into the download directory and returns
// the local path. Already downloaded episodes return their existing path.
func (s *Store) Download(ctx context.Context, id string) mo.Result[string] {
	ep, ok := s.Episode(id).Get()
	if !ok {
		return mo.Err[string](fmt.Errorf("episode %s: %w", id, ErrNotFound))
	}
	if ep.Downloaded && ep.LocalPath != "" {
		if exists, _ := afero.Exists(s.opts.Fs, ep.LocalPath); exists {
			return mo.Ok(ep.LocalPath)
		}
	}
	if ep.AudioURL == "" {
		return mo.Err[string](fmt.Errorf("episode %s has no audio url", id))
	}

	dest := filepath.Join(s.opts.DownloadDir, id+audioExt(ep.AudioURL))
	if err := s.fetchTo(ctx, ep.AudioURL, dest); err != nil {
		return mo.Err[string](fmt.Errorf("download %s: %w", id, err))
	}

	err := s.mutate([]string{id}, func(e *Episode) {
		e.Downloaded = true
		e.LocalPath = dest
	})
	if err != nil {
		return mo.Err[string](err)
	}
	s.logger.Info("downloaded", "id", id, "path", dest)
	return mo.Ok(dest)
}

// fetchTo writes into a temporary file and renames it so an interrupted
// download never leaves a truncated file at dest.
func (s *Store) fetchTo(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.opts.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("download failed: %d", resp.StatusCode)
	}

	if err := s.opts.Fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	tmp := dest + ".part"
	f, err := s.opts.Fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = s.opts.Fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = s.opts.Fs.Remove(tmp)
		return err
	}
	return s.opts.Fs.Rename(tmp, dest)
}

func audioExt(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	ext := strings.ToLower(path.Ext(url))
	switch ext {
	case ".mp3", ".m4a", ".aac", ".ogg", ".opus", ".wav", ".flac":
		return ext
	}
	return ".mp3"
}
