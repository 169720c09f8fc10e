// Package firmware downloads and installs firmware images requested through UpdateFirmware.
package firmware

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	ocppfirmware "github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"go.uber.org/zap"

	"chargepoint/internal/ocpp/protocol"
)

const imageName = "firmware.bin"

// Update is one accepted UpdateFirmware request.
type Update struct {
	Location      string
	RetrieveAt    time.Time
	Retries       int
	RetryInterval time.Duration
}

// Downloader fetches location into dst.
type Downloader interface {
	Download(ctx context.Context, location, dst string) (int64, error)
}

// Notifier reports progress to the central system.
type Notifier interface {
	FirmwareStatusNotification(ctx context.Context, req protocol.FirmwareStatusNotificationRequest) error
}

// InstallFunc installs the image at path.
type InstallFunc func(ctx context.Context, path string) error

// Command returns an InstallFunc running command through sh with the image path as $1.
// An empty command only keeps the image in the staging directory.
func Command(command string) InstallFunc {
	return func(ctx context.Context, path string) error {
		if command == "" {
			return nil
		}
		out, err := exec.CommandContext(ctx, "sh", "-c", command, "sh", path).CombinedOutput()
		if err != nil {
			return errors.Join(err, errors.New(string(out)))
		}
		return nil
	}
}

// Options wires an Updater.
type Options struct {
	Dir        string
	Downloader Downloader
	Notifier   Notifier
	Install    InstallFunc
	Logger     *zap.Logger
}

// Updater runs at most one update at a time. A new request replaces one still waiting for its
// retrieve date.
type Updater struct {
	dir        string
	downloader Downloader
	notifier   Notifier
	install    InstallFunc
	logger     *zap.Logger

	pending chan Update

	mu     sync.RWMutex
	status ocppfirmware.FirmwareStatus
}

func NewUpdater(opts Options) *Updater {
	u := &Updater{
		dir:        opts.Dir,
		downloader: opts.Downloader,
		notifier:   opts.Notifier,
		install:    opts.Install,
		logger:     opts.Logger,
		pending:    make(chan Update, 1),
		status:     ocppfirmware.FirmwareStatusIdle,
	}
	if u.install == nil {
		u.install = Command("")
	}
	if u.logger == nil {
		u.logger = zap.NewNop()
	}
	return u
}

// Schedule queues update without blocking.
func (u *Updater) Schedule(update Update) {
	for {
		select {
		case u.pending <- update:
			u.logger.Info("firmware update scheduled",
				zap.String("location", update.Location),
				zap.Time("retrieve_at", update.RetrieveAt),
			)
			return
		default:
		}
		select {
		case old := <-u.pending:
			u.logger.Info("firmware update superseded", zap.String("location", old.Location))
		default:
		}
	}
}

// Status is the last reported firmware status.
func (u *Updater) Status() ocppfirmware.FirmwareStatus {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.status
}

// Report sends the current status again.
func (u *Updater) Report(ctx context.Context) error {
	return u.notifier.FirmwareStatusNotification(ctx, protocol.FirmwareStatusNotificationRequest{Status: u.Status()})
}

// Run processes scheduled updates until ctx is done.
func (u *Updater) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-u.pending:
			u.apply(ctx, update)
		}
	}
}

func (u *Updater) apply(ctx context.Context, update Update) {
	if wait := time.Until(update.RetrieveAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	path := filepath.Join(u.dir, imageName)
	attempts := 1 + update.Retries
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		u.report(ctx, ocppfirmware.FirmwareStatusDownloading)
		var n int64
		n, err = u.downloader.Download(ctx, update.Location, path)
		if err == nil {
			u.logger.Info("firmware downloaded", zap.String("path", path), zap.Int64("bytes", n))
			break
		}
		u.logger.Warn("firmware download failed",
			zap.Int("attempt", attempt),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		if attempt == attempts || !sleep(ctx, update.RetryInterval) {
			break
		}
	}
	if err != nil {
		u.report(ctx, ocppfirmware.FirmwareStatusDownloadFailed)
		return
	}
	u.report(ctx, ocppfirmware.FirmwareStatusDownloaded)

	u.report(ctx, ocppfirmware.FirmwareStatusInstalling)
	if err := u.install(ctx, path); err != nil {
		u.logger.Error("firmware installation failed", zap.Error(err))
		u.report(ctx, ocppfirmware.FirmwareStatusInstallationFailed)
		return
	}
	u.report(ctx, ocppfirmware.FirmwareStatusInstalled)
}

func (u *Updater) report(ctx context.Context, status ocppfirmware.FirmwareStatus) {
	u.mu.Lock()
	u.status = status
	u.mu.Unlock()

	if err := u.notifier.FirmwareStatusNotification(ctx, protocol.FirmwareStatusNotificationRequest{Status: status}); err != nil {
		u.logger.Warn("firmware status not delivered", zap.String("status", string(status)), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
