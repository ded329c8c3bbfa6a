package minio

import (
    "context"
    "fmt"
    "io"

    "github.com/minio/minio-go/v7"
    "github.com/minio/minio-go/v7/pkg/credentials"

    cfg "github.com/feichai0017/casefolio/config"
    "github.com/feichai0017/casefolio/internal/models"
    "github.com/feichai0017/casefolio/pkg/logger"
)

type MinioStorage struct {
    client     *minio.Client
    bucketName string
    logger     logger.Logger
}

// Store implements Storage.Store
func (m *MinioStorage) Store(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
    info, err := m.client.PutObject(ctx, m.bucketName, key, reader, size, minio.PutObjectOptions{
        ContentType: contentType,
    })
    if err != nil {
        m.logger.Error("Failed to store file to MinIO",
            logger.String("bucket", m.bucketName),
            logger.String("key", key),
            logger.Error(err),
        )
        return "", fmt.Errorf("failed to store file: %w", err)
    }

    m.logger.Debug("Stored object", logger.String("key", key), logger.Int64("size", info.Size))
    return key, nil
}

// Get implements Storage.Get. GetObject is lazy, so the object is stat'ed first to surface a missing key here.
func (m *MinioStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
    obj, err := m.client.GetObject(ctx, m.bucketName, key, minio.GetObjectOptions{})
    if err == nil {
        _, err = obj.Stat()
        if err != nil {
            obj.Close()
        }
    }
    if err != nil {
        if minio.ToErrorResponse(err).Code == "NoSuchKey" {
            return nil, models.NewNotFound("object", key)
        }
        m.logger.Error("Failed to get file from MinIO",
            logger.String("bucket", m.bucketName),
            logger.String("key", key),
            logger.Error(err),
        )
        return nil, fmt.Errorf("failed to get file: %w", err)
    }

    return obj, nil
}

// Delete implements Storage.Delete
func (m *MinioStorage) Delete(ctx context.Context, key string) error {
    err := m.client.RemoveObject(ctx, m.bucketName, key, minio.RemoveObjectOptions{})
    if err != nil {
        m.logger.Error("Failed to delete file from MinIO",
            logger.String("bucket", m.bucketName),
            logger.String("key", key),
            logger.Error(err),
        )
        return fmt.Errorf("failed to delete file: %w", err)
    }

    return nil
}

func NewMinioStorage(ctx context.Context, minioConfig *cfg.MinioConfig, logger logger.Logger) (*MinioStorage, error) {
    client, err := minio.New(minioConfig.Endpoint, &minio.Options{
        Creds:  credentials.NewStaticV4(minioConfig.AccessKey, minioConfig.SecretKey, ""),
        Secure: minioConfig.UseSSL,
        Region: minioConfig.Region,
    })
    if err != nil {
        return nil, fmt.Errorf("failed to create MinIO client: %w", err)
    }

    exists, err := client.BucketExists(ctx, minioConfig.BucketName)
    if err != nil {
        return nil, fmt.Errorf("failed to check bucket existence: %w", err)
    }

    if !exists {
        err = client.MakeBucket(ctx, minioConfig.BucketName, minio.MakeBucketOptions{
            Region: minioConfig.Region,
        })
        if err != nil {
            return nil, fmt.Errorf("failed to create bucket: %w", err)
        }
    }

    return &MinioStorage{
        client:     client,
        bucketName: minioConfig.BucketName,
        logger:     logger.Named("minio"),
    }, nil
}

func GetClient(ctx context.Context, logger logger.Logger) (*MinioStorage, error) {
    return NewMinioStorage(ctx, cfg.GetMinioConfig(), logger)
}
