package storage

import (
    "context"
    "fmt"
    "io"

    "github.com/feichai0017/casefolio/pkg/logger"
    "github.com/feichai0017/casefolio/pkg/storage/minio"
    "github.com/feichai0017/casefolio/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
    StorageTypeS3    StorageType = "s3"
    StorageTypeMinio StorageType = "minio"
)

// Storage 接口定义. Keys are caller-chosen object paths.
type Storage interface {
    // Store 存储文件; size may be -1 when unknown
    Store(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error)
    // Get 获取文件. A missing key yields an error matching models.ErrNotFound.
    Get(ctx context.Context, key string) (io.ReadCloser, error)
    // Delete 删除文件
    Delete(ctx context.Context, key string) error
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(ctx context.Context, storageType StorageType, logger logger.Logger) (Storage, error) {
    switch storageType {
    case StorageTypeS3:
        return s3.GetClient(ctx, logger)
    case StorageTypeMinio:
        return minio.GetClient(ctx, logger)
    default:
        return nil, fmt.Errorf("unsupported storage type: %s", storageType)
    }
}

// DocumentKey is where an uploaded case document is stored.
func DocumentKey(caseID, documentID, fileName string) string {
    return fmt.Sprintf("cases/%s/%s/%s", caseID, documentID, fileName)
}
