package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	mbminio "github.com/mysqlops/mysqlbackup/pkg/minio"
	"github.com/mysqlops/mysqlbackup/pkg/pipeline"
)

// Object is a stored backup.
type Object struct {
	Location     string
	Key          string
	Size         int64
	LastModified time.Time
}

func (o Object) String() string {
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(o.Location, "/"), o.Key)
}

// ObjectLister lists the backups of a storage location.
type ObjectLister interface {
	Location() string
	ListObjects(ctx context.Context, prefix string) ([]Object, error)
}

// Storage is a location backups can be listed from and streamed out of.
type Storage interface {
	ObjectLister
	DownloadStage(object Object) (pipeline.Stage, error)
}

type S3Storage struct {
	client *mbminio.Client
	logger logr.Logger
}

func NewS3Storage(client *mbminio.Client, logger logr.Logger) *S3Storage {
	return &S3Storage{
		client: client,
		logger: logger.WithValues("bucket", client.Bucket()),
	}
}

func (s *S3Storage) Location() string {
	return fmt.Sprintf("s3://%s", s.client.Bucket())
}

func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	s.logger.V(1).Info("Listing objects", "prefix", prefix)
	objects, err := s.client.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	result := make([]Object, len(objects))
	for i, o := range objects {
		result[i] = Object{
			Location:     s.Location(),
			Key:          o.Key,
			Size:         o.Size,
			LastModified: o.LastModified,
		}
	}
	return result, nil
}

func (s *S3Storage) Bucket() string {
	return s.client.Bucket()
}

// UploadStage returns an in-process pipeline stage that streams its input into key.
func (s *S3Storage) UploadStage(key string) pipeline.Stage {
	return pipeline.NewFuncStage("s3-upload", func(ctx context.Context, stdin io.Reader, _ io.Writer) error {
		size, err := s.client.Put(ctx, key, stdin, -1)
		if err != nil {
			return err
		}
		s.logger.Info("Uploaded backup", "key", key, "size", size)
		return nil
	})
}

// DownloadStage returns an in-process pipeline stage that streams the object to the next stage.
func (s *S3Storage) DownloadStage(object Object) (pipeline.Stage, error) {
	if object.Location != s.Location() {
		return nil, fmt.Errorf("object %s does not belong to %s", object, s.Location())
	}
	return pipeline.NewFuncStage("s3-download", func(ctx context.Context, _ io.Reader, stdout io.Writer) error {
		reader, err := s.client.Get(ctx, object.Key)
		if err != nil {
			return err
		}
		defer reader.Close()
		if _, err := io.Copy(stdout, reader); err != nil {
			return fmt.Errorf("error downloading object \"%s\": %v", object.Key, err)
		}
		return nil
	}), nil
}

// FileSystemStorage lists backups copied to a local directory, using the same key layout as object storage.
type FileSystemStorage struct {
	basePath string
	logger   logr.Logger
}

func NewFileSystemStorage(basePath string, logger logr.Logger) *FileSystemStorage {
	return &FileSystemStorage{
		basePath: basePath,
		logger:   logger.WithValues("path", basePath),
	}
}

func (f *FileSystemStorage) Location() string {
	return fmt.Sprintf("file://%s", f.basePath)
}

func (f *FileSystemStorage) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	dir := filepath.Join(f.basePath, filepath.FromSlash(filepath.Dir(prefix)))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading directory %s: %v", dir, err)
	}
	var objects []Object
	for _, e := range entries {
		key := filepath.ToSlash(filepath.Join(filepath.Dir(prefix), e.Name()))
		if e.IsDir() || !strings.HasPrefix(key, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("error getting file info: %v", err)
		}
		f.logger.V(1).Info("Found backup file", "key", key, "size", info.Size())
		objects = append(objects, Object{
			Location:     f.Location(),
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}
	return objects, nil
}

// Path returns the local path of a key.
func (f *FileSystemStorage) Path(key string) string {
	return filepath.Join(f.basePath, filepath.FromSlash(key))
}

// DownloadStage returns an in-process pipeline stage that streams the backup file to the next stage.
func (f *FileSystemStorage) DownloadStage(object Object) (pipeline.Stage, error) {
	if object.Location != f.Location() {
		return nil, fmt.Errorf("object %s does not belong to %s", object, f.Location())
	}
	path := f.Path(object.Key)
	return pipeline.NewFuncStage("file-read", func(ctx context.Context, _ io.Reader, stdout io.Writer) error {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("error opening backup file: %v", err)
		}
		defer file.Close()
		if _, err := io.Copy(stdout, file); err != nil {
			return fmt.Errorf("error reading backup file \"%s\": %v", path, err)
		}
		return nil
	}), nil
}
