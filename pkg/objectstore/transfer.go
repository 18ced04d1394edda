package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gowebpki/jcs"
)

// Download streams a single object to localPath, creating parent directories.
func (s *Store) Download(ctx context.Context, key, localPath string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.logger.Error("object download failed", "bucket", s.cfg.Bucket, "key", key, "error", err)
		return classify("get object", err)
	}
	defer func() { _ = out.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return newError(UnknownError, "create download directory", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return newError(UnknownError, "create download file", err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		return classify("read object body", err)
	}
	if err := f.Close(); err != nil {
		return newError(UnknownError, "close download file", err)
	}
	return nil
}

// Fetch copies a resolved crate into destDir. A zip crate lands at
// destDir/<crateID>.zip; a directory crate is mirrored to destDir/<crateID>
// with relative paths preserved. The local path is returned.
func (s *Store) Fetch(ctx context.Context, entry *Entry, crateID, destDir string) (string, error) {
	if !entry.IsDir {
		local := filepath.Join(destDir, crateID+".zip")
		if !within(destDir, local) {
			return "", newError(UnknownError, "fetch crate", fmt.Errorf("crate id %q escapes the work directory", crateID))
		}
		s.logger.Info("fetching crate archive", "bucket", s.cfg.Bucket, "key", entry.Key, "path", local)
		if err := s.Download(ctx, entry.Key, local); err != nil {
			return "", err
		}
		return local, nil
	}

	root := filepath.Join(destDir, crateID)
	if !within(destDir, root) {
		return "", newError(UnknownError, "fetch crate", fmt.Errorf("crate id %q escapes the work directory", crateID))
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", newError(UnknownError, "create crate directory", err)
	}

	prefix := strings.TrimSuffix(entry.Key, "/") + "/"
	objects, err := s.List(ctx, prefix, true)
	if err != nil {
		return "", err
	}

	s.logger.Info("fetching crate directory", "bucket", s.cfg.Bucket, "prefix", prefix, "objects", len(objects), "path", root)
	for _, obj := range objects {
		if obj.IsDir {
			continue
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		target := filepath.Join(root, filepath.FromSlash(rel))
		if !within(root, target) {
			return "", newError(UnknownError, "mirror crate directory", fmt.Errorf("object key %q escapes crate root", obj.Key))
		}
		if err := s.Download(ctx, obj.Key, target); err != nil {
			return "", err
		}
	}
	return root, nil
}

// within reports whether path lies strictly below dir.
func within(dir, path string) bool {
	return strings.HasPrefix(filepath.Clean(path), filepath.Clean(dir)+string(os.PathSeparator))
}

// UploadResult stores the canonical form of a JSON validation result.
func (s *Store) UploadResult(ctx context.Context, crateID, rootPath string, result []byte) error {
	canonical, err := jcs.Transform(result)
	if err != nil {
		return newError(UnknownError, "canonicalize result", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := ResultKey(rootPath, crateID)
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(canonical),
		ContentLength: aws.Int64(int64(len(canonical))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		s.logger.Error("result upload failed", "bucket", s.cfg.Bucket, "key", key, "error", err)
		return classify("put object", err)
	}

	s.logger.Info("validation result uploaded", "bucket", s.cfg.Bucket, "key", key, "bytes", len(canonical))
	return nil
}

// ReadResult returns the stored result bytes exactly as persisted.
func (s *Store) ReadResult(ctx context.Context, crateID, rootPath string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := ResultKey(rootPath, crateID)
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.logger.Error("result read failed", "bucket", s.cfg.Bucket, "key", key, "error", err)
		return nil, classify("get object", err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, classify("read object body", err)
	}
	return data, nil
}
