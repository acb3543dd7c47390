package socsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"cloud.google.com/go/storage"
)

// SnapshotStore keeps the fetched dataset of a chain so continuations
// address the same records by batch index.
type SnapshotStore interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

func SnapshotKey(run models.SyncRun) string {
	return fmt.Sprintf("snapshots/%s/%s/%d.json", url.PathEscape(run.Owner), run.Kind, run.ChainRootID())
}

type GCSSnapshotStore struct {
	Client *storage.Client
	Bucket string
}

func (s *GCSSnapshotStore) Save(ctx context.Context, key string, data []byte) error {
	w := s.Client.Bucket(s.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write snapshot %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close snapshot %q: %w", key, err)
	}
	return nil
}

func (s *GCSSnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	r, err := s.Client.Bucket(s.Bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %q: %w", key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSSnapshotStore) Delete(ctx context.Context, key string) error {
	err := s.Client.Bucket(s.Bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}
