package publisher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"adgenius/generator"
)

// CSVSink writes one CSV file per persisted draft into Dir.
type CSVSink struct {
	Dir    string
	now    func() time.Time
	logger *zap.Logger
}

func NewCSVSink(dir string, logger *zap.Logger) *CSVSink {
	if dir == "" {
		dir = "."
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVSink{Dir: dir, now: time.Now, logger: logger.With(zap.String("component", "csv_sink"))}
}

func (s *CSVSink) Persist(_ context.Context, draft generator.Draft, label Label) (string, error) {
	data, err := EncodeCSV(draft)
	if err != nil {
		return "", fmt.Errorf("encode csv: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path, err := s.create(FileName(label, s.now()), data)
	if err != nil {
		return "", err
	}
	s.logger.Info("export successful",
		zap.String("file", path),
		zap.Bool("approved", label.Approved),
		zap.Int("rows", len(draft.Headlines)+len(draft.Descriptions)))
	return path, nil
}

// create 以 O_EXCL 创建文件；同一秒内同域名的并发运行追加序号避免覆盖。
func (s *CSVSink) create(name string, data []byte) (string, error) {
	for i := 1; i <= maxNameAttempts; i++ {
		path := filepath.Join(s.Dir, numbered(name, i))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create csv: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("write csv: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close csv: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("create csv: too many files named %s", name)
}
