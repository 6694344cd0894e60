package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"adgenius/generator"
)

// GCSSink uploads the CSV export to a Cloud Storage bucket.
type GCSSink struct {
	client    *storage.Client
	bucket    string
	prefix    string
	now       func() time.Time
	newWriter func(ctx context.Context, object string) io.WriteCloser
	logger    *zap.Logger
}

func NewGCSSink(ctx context.Context, bucket, prefix string, logger *zap.Logger) (*GCSSink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs sink requires a bucket")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GCSSink{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		logger: logger.With(zap.String("component", "gcs_sink")),
	}
	// DoesNotExist 前置条件：对象已存在时 Close 返回 412，由 Persist 换名重试。
	s.newWriter = func(ctx context.Context, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
		w.ContentType = "text/csv"
		return w
	}
	return s, nil
}

func (s *GCSSink) Persist(ctx context.Context, draft generator.Draft, label Label) (string, error) {
	data, err := EncodeCSV(draft)
	if err != nil {
		return "", fmt.Errorf("encode csv: %w", err)
	}
	name := FileName(label, s.now())
	for i := 1; i <= maxNameAttempts; i++ {
		object := path.Join(s.prefix, numbered(name, i))
		err := s.upload(ctx, object, data)
		if objectExists(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		uri := fmt.Sprintf("gs://%s/%s", s.bucket, object)
		s.logger.Info("uploaded export", zap.String("object", uri))
		return uri, nil
	}
	return "", fmt.Errorf("upload: too many objects named %s", name)
}

func (s *GCSSink) upload(ctx context.Context, object string, data []byte) error {
	w := s.newWriter(ctx, object)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing object data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing object writer: %w", err)
	}
	return nil
}

func objectExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

func (s *GCSSink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
