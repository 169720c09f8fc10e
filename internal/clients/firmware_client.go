package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const defaultDownloadTimeout = 60 * time.Second

// FirmwareClient fetches firmware images over HTTP.
type FirmwareClient struct {
	client *http.Client
	logger *zap.Logger
}

// NewFirmwareClient builds HTTP client wrapper. timeout <= 0 means 60s.
func NewFirmwareClient(timeout time.Duration, logger *zap.Logger) *FirmwareClient {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirmwareClient{
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Download stores the body of location at dst. The file is written next to dst first and
// renamed on success, so dst never holds a partial image.
func (c *FirmwareClient) Download(ctx context.Context, location, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("firmware download request failed", zap.String("location", location), zap.Error(err))
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("firmware server returned non-success", zap.Int("status", resp.StatusCode))
		return 0, fmt.Errorf("firmware download non-success status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".firmware-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("write firmware image: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return n, err
	}
	return n, nil
}
