package backupjob

import (
	"fmt"

	"github.com/mysqlops/mysqlbackup/pkg/backup"
	"github.com/mysqlops/mysqlbackup/pkg/command"
	"github.com/mysqlops/mysqlbackup/pkg/pipeline"
)

type TransferMode string

const (
	// TransferModeTool streams backups through the external transfer tool.
	TransferModeTool TransferMode = "tool"
	// TransferModeMinio streams backups with the in-process S3 client.
	TransferModeMinio TransferMode = "minio"
)

func ParseTransferMode(raw string) (TransferMode, error) {
	switch mode := TransferMode(raw); mode {
	case TransferModeTool, TransferModeMinio:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported transfer mode \"%s\"", raw)
	}
}

// ToolCredentialsEnv passes the S3 credentials to the external transfer tool, which reads them from AWS_* variables.
func ToolCredentialsEnv(accessKeyID, secretAccessKey string) []string {
	return []string{
		fmt.Sprintf("AWS_ACCESS_KEY_ID=%s", accessKeyID),
		fmt.Sprintf("AWS_SECRET_ACCESS_KEY=%s", secretAccessKey),
	}
}

// Uploader provides the last stage of a backup pipeline.
type Uploader interface {
	Location() string
	UploadStage(key string) (pipeline.Stage, error)
}

// ToolUploader uploads through the external transfer tool.
type ToolUploader struct {
	builder   *command.Builder
	bucket    string
	endpoint  string
	stageOpts []pipeline.StageOpt
}

func NewToolUploader(builder *command.Builder, bucket, endpoint string, stageOpts ...pipeline.StageOpt) *ToolUploader {
	return &ToolUploader{
		builder:   builder,
		bucket:    bucket,
		endpoint:  endpoint,
		stageOpts: stageOpts,
	}
}

func (u *ToolUploader) Location() string {
	return fmt.Sprintf("s3://%s", u.bucket)
}

func (u *ToolUploader) UploadStage(key string) (pipeline.Stage, error) {
	cmd, err := u.builder.S3Upload(command.S3Opts{
		Bucket:   u.bucket,
		Key:      key,
		Endpoint: u.endpoint,
	})
	if err != nil {
		return nil, err
	}
	return pipeline.NewCommandStage(cmd, u.stageOpts...)
}

// StorageUploader uploads with the S3 client backing an S3Storage.
type StorageUploader struct {
	storage *backup.S3Storage
}

func NewStorageUploader(storage *backup.S3Storage) *StorageUploader {
	return &StorageUploader{
		storage: storage,
	}
}

func (u *StorageUploader) Location() string {
	return u.storage.Location()
}

func (u *StorageUploader) UploadStage(key string) (pipeline.Stage, error) {
	return u.storage.UploadStage(key), nil
}

// ToolStorage lists backups with the S3 client and downloads them through the external transfer tool.
// Downloads terminate when this process dies.
type ToolStorage struct {
	*backup.S3Storage
	builder   *command.Builder
	endpoint  string
	stageOpts []pipeline.StageOpt
}

func NewToolStorage(storage *backup.S3Storage, builder *command.Builder, endpoint string,
	stageOpts ...pipeline.StageOpt) *ToolStorage {
	return &ToolStorage{
		S3Storage: storage,
		builder:   builder,
		endpoint:  endpoint,
		stageOpts: stageOpts,
	}
}

func (s *ToolStorage) DownloadStage(object backup.Object) (pipeline.Stage, error) {
	if object.Location != s.Location() {
		return nil, fmt.Errorf("object %s does not belong to %s", object, s.Location())
	}
	cmd, err := s.builder.S3Download(command.S3Opts{
		Bucket:   s.Bucket(),
		Key:      object.Key,
		Endpoint: s.endpoint,
	})
	if err != nil {
		return nil, err
	}
	return pipeline.NewCommandStage(cmd, append([]pipeline.StageOpt{pipeline.WithParentDeathSignal()}, s.stageOpts...)...)
}
