package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/logfield"
)

// ArchiveStore keeps export archives in object storage, one object per
// connection at {organizationId}/{connectionName}.zip. A fresh enough
// archive short-circuits a new export.
type ArchiveStore struct {
	client *minio.Client
	bucket string
	log    logger.Logger
	now    func() time.Time

	config struct {
		cacheWindow time.Duration
	}
}

type ArchiveOpt func(*ArchiveStore)

// WithNow fixes the store's clock, used to decide archive freshness.
func WithNow(now func() time.Time) ArchiveOpt {
	return func(s *ArchiveStore) {
		s.now = now
	}
}

func NewArchiveStore(conf *config.Config, log logger.Logger, opts ...ArchiveOpt) (*ArchiveStore, error) {
	client, err := minio.New(conf.GetString("Archive.endpoint", "localhost:9000"), &minio.Options{
		Creds: credentials.NewStaticV4(
			conf.GetString("Archive.accessKeyID", ""),
			conf.GetString("Archive.secretAccessKey", ""),
			"",
		),
		Secure: conf.GetBool("Archive.useSSL", true),
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}

	s := &ArchiveStore{
		client: client,
		bucket: conf.GetString("Archive.bucket", "syncdock-exports"),
		log:    log.Child("archive"),
		now:    time.Now,
	}
	s.config.cacheWindow = conf.GetDuration("Archive.cacheWindow", 12, time.Hour)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ArchiveStore) ObjectKey(conn model.Connection) string {
	return fmt.Sprintf("%s/%s.zip", conn.OrganizationID, conn.Name)
}

// Fresh reports whether the connection's archive exists and is younger than
// the cache window.
func (s *ArchiveStore) Fresh(ctx context.Context, key string) (bool, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("checking archive %s: %w", key, err)
	}
	return s.now().Sub(info.LastModified) < s.config.cacheWindow, nil
}

// Export writes the batches as a ZIP archive for the connection, unless a
// fresh archive already exists. It returns the object key and whether the
// cached archive was reused.
func (s *ArchiveStore) Export(ctx context.Context, conn model.Connection, batches []model.RecordBatch, opts CSVOptions) (string, bool, error) {
	key := s.ObjectKey(conn)

	fresh, err := s.Fresh(ctx, key)
	if err != nil {
		return "", false, err
	}
	if fresh {
		s.log.Infow("reusing cached archive",
			logfield.OrganizationID, conn.OrganizationID,
			logfield.ObjectKey, key,
		)
		return key, true, nil
	}

	var buf bytes.Buffer
	if err := WriteArchive(&buf, batches, opts); err != nil {
		return "", false, err
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return "", false, fmt.Errorf("uploading archive %s: %w", key, err)
	}

	s.log.Infow("uploaded archive",
		logfield.OrganizationID, conn.OrganizationID,
		logfield.ObjectKey, key,
		"tables", len(batches),
	)
	return key, false, nil
}
