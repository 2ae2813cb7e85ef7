package tracking

import (
	"context"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const artifactsProxyPrefix = "api/2.0/mlflow-artifacts/artifacts"

// artifactStore writes one local file to dest, a slash separated path
// relative to the run's artifact root.
type artifactStore interface {
	put(ctx context.Context, localPath, dest string) error
}

// LogArtifact uploads a single file into artifactPath of the run.
func (c *Client) LogArtifact(ctx context.Context, run RunInfo, localPath, artifactPath string) error {
	store, err := c.artifactStore(run)
	if err != nil {
		return err
	}
	dest := path.Join(artifactPath, filepath.Base(localPath))
	if err := store.put(ctx, localPath, dest); err != nil {
		return errors.Wrapf(err, "log artifact %s", localPath)
	}
	c.logger.Debug("logged artifact", zap.String("run_id", run.RunID), zap.String("artifact", dest))
	return nil
}

// LogArtifacts uploads every regular file below localDir into artifactPath of
// the run, keeping the directory structure.
func (c *Client) LogArtifacts(ctx context.Context, run RunInfo, localDir, artifactPath string) error {
	store, err := c.artifactStore(run)
	if err != nil {
		return err
	}

	var files int
	var total int64
	err = filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		dest := path.Join(artifactPath, filepath.ToSlash(rel))
		if err := store.put(ctx, p, dest); err != nil {
			return errors.Wrapf(err, "log artifact %s", p)
		}
		files++
		total += info.Size()
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("logged artifacts",
		zap.String("run_id", run.RunID),
		zap.String("artifact_path", artifactPath),
		zap.Int("files", files),
		zap.String("size", units.HumanSize(float64(total))),
	)
	return nil
}

func (c *Client) artifactStore(run RunInfo) (artifactStore, error) {
	u, err := url.Parse(run.ArtifactURI)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid artifact uri %q", run.ArtifactURI)
	}
	switch u.Scheme {
	case "mlflow-artifacts":
		base := c.baseURL
		if u.Host != "" {
			base = &url.URL{Scheme: c.baseURL.Scheme, Host: u.Host}
		}
		return &proxyStore{
			http: c.http,
			root: base.JoinPath(artifactsProxyPrefix, strings.TrimPrefix(u.Path, "/")),
		}, nil
	case "file":
		return localStore{root: filepath.FromSlash(u.Path)}, nil
	case "":
		return localStore{root: run.ArtifactURI}, nil
	default:
		return nil, errors.Errorf("unsupported artifact uri %q", run.ArtifactURI)
	}
}

// proxyStore uploads through the tracking server's artifact proxy.
type proxyStore struct {
	http *http.Client
	root *url.URL
}

func (s *proxyStore) put(ctx context.Context, localPath, dest string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.root.JoinPath(dest).String(), f)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// localStore copies into an artifact root on a shared filesystem.
type localStore struct {
	root string
}

func (s localStore) put(_ context.Context, localPath, dest string) error {
	target := filepath.Join(s.root, filepath.FromSlash(dest))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
