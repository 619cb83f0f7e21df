package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/volume"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultLoopbackPath is the base directory for loopback backing files
	DefaultLoopbackPath = "/var/lib/burrow/volumes"

	backingFileExt = ".img"
	gib            = int64(1) << 30
)

// LoopbackDriver provisions volumes as sparse files under a base path and
// attaches them as loop devices. Each location is a subdirectory.
type LoopbackDriver struct {
	basePath  string
	runner    volume.CommandRunner
	templates *Templates
	newID     func() string
	logger    zerolog.Logger
}

// NewLoopbackDriver creates a new loopback driver
func NewLoopbackDriver(basePath string, templates *Templates, runner volume.CommandRunner) (*LoopbackDriver, error) {
	if basePath == "" {
		basePath = DefaultLoopbackPath
	}
	if runner == nil {
		runner = volume.ExecRunner{}
	}

	// Ensure base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create volumes directory: %w", err)
	}

	return &LoopbackDriver{
		basePath:  basePath,
		runner:    runner,
		templates: templates,
		newID:     func() string { return uuid.New().String() },
		logger:    log.WithComponent("loopback-driver"),
	}, nil
}

// CreateVolume creates a sparse backing file sized from the template
func (d *LoopbackDriver) CreateVolume(ctx context.Context, templateName, location string) (string, error) {
	template, err := d.templates.Get(templateName)
	if err != nil {
		return "", err
	}

	dir, err := d.locationPath(location)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create location directory: %w", err)
	}

	id := template.NamePrefix + d.newID()
	path := filepath.Join(dir, id+backingFileExt)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create backing file: %w", err)
	}
	defer file.Close()

	if err := file.Truncate(int64(template.Size) * gib); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to size backing file: %w", err)
	}

	d.logger.Info().
		Str("volume_id", id).
		Str("path", path).
		Int("size_gib", template.Size).
		Msg("Created loopback volume")

	return id, nil
}

// AttachVolume binds the backing file of volumeID to device.
// Loop devices are local, so bindAddress is not used.
func (d *LoopbackDriver) AttachVolume(ctx context.Context, volumeID, device, bindAddress string) error {
	path, err := d.findBackingFile(volumeID)
	if err != nil {
		return err
	}

	if _, err := d.runner.Run(ctx, "losetup", device, path); err != nil {
		return err
	}
	return nil
}

// DetachVolume releases every loop device bound to the backing file of volumeID
func (d *LoopbackDriver) DetachVolume(ctx context.Context, volumeID, bindAddress string) error {
	path, err := d.findBackingFile(volumeID)
	if err != nil {
		return err
	}

	devices, err := d.loopDevices(ctx, path)
	if err != nil {
		return err
	}

	for _, device := range devices {
		if _, err := d.runner.Run(ctx, "losetup", "-d", device); err != nil {
			return err
		}
	}
	return nil
}

// DeleteVolume removes the backing file. Deleting a missing volume is not an error.
func (d *LoopbackDriver) DeleteVolume(ctx context.Context, location, volumeID string) error {
	if err := validVolumeID(volumeID); err != nil {
		return err
	}
	dir, err := d.locationPath(location)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, volumeID+backingFileExt)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete backing file: %w", err)
	}
	return nil
}

// GetTemplate returns the named template
func (d *LoopbackDriver) GetTemplate(name string) (*types.StorageTemplate, error) {
	return d.templates.Get(name)
}

// AttachmentReady reports whether a loop device is bound to the backing file
func (d *LoopbackDriver) AttachmentReady(ctx context.Context, volumeID, bindAddress string) (bool, error) {
	path, err := d.findBackingFile(volumeID)
	if err != nil {
		return false, err
	}

	devices, err := d.loopDevices(ctx, path)
	if err != nil {
		return false, err
	}
	return len(devices) > 0, nil
}

// loopDevices parses `losetup -j` output such as "/dev/loop0: [2049]:12 (/path)"
func (d *LoopbackDriver) loopDevices(ctx context.Context, path string) ([]string, error) {
	out, err := d.runner.Run(ctx, "losetup", "-j", path)
	if err != nil {
		return nil, err
	}

	var devices []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.Index(line, ":"); i > 0 {
			devices = append(devices, line[:i])
		}
	}
	return devices, nil
}

func (d *LoopbackDriver) findBackingFile(volumeID string) (string, error) {
	if err := validVolumeID(volumeID); err != nil {
		return "", err
	}

	matches, err := filepath.Glob(filepath.Join(d.basePath, "*", volumeID+backingFileExt))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no backing file for volume %s", volumeID)
	}
	return matches[0], nil
}

func validVolumeID(volumeID string) error {
	if volumeID == "" || strings.ContainsAny(volumeID, `/\*?[`) {
		return fmt.Errorf("invalid volume id %q", volumeID)
	}
	return nil
}

func (d *LoopbackDriver) locationPath(location string) (string, error) {
	if location == "" {
		location = "default"
	}
	if strings.ContainsAny(location, `/\`) || location == "." || location == ".." {
		return "", fmt.Errorf("invalid location %q", location)
	}
	return filepath.Join(d.basePath, location), nil
}
