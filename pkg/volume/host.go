package volume

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// HostOperations performs filesystem actions on a local device.
// Deadlines come from ctx.
type HostOperations interface {
	Mount(ctx context.Context, device, path string) error
	Unmount(ctx context.Context, device string) error
	Format(ctx context.Context, device, fileSystem string) error
}

var fileSystemPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// ExecHostOperations implements HostOperations with mount, umount and mkfs
type ExecHostOperations struct {
	runner           CommandRunner
	createMountPoint bool
}

// NewExecHostOperations creates host operations backed by runner.
// When createMountPoint is set, Mount creates the target directory first.
func NewExecHostOperations(runner CommandRunner, createMountPoint bool) *ExecHostOperations {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ExecHostOperations{
		runner:           runner,
		createMountPoint: createMountPoint,
	}
}

// Mount mounts device at path
func (h *ExecHostOperations) Mount(ctx context.Context, device, path string) error {
	if device == "" || path == "" {
		return fmt.Errorf("device and mount path are required")
	}

	if h.createMountPoint {
		if _, err := h.runner.Run(ctx, "mkdir", "-p", path); err != nil {
			return fmt.Errorf("failed to create mount point: %w", err)
		}
	}

	if _, err := h.runner.Run(ctx, "mount", device, path); err != nil {
		return err
	}
	return nil
}

// Unmount unmounts device
func (h *ExecHostOperations) Unmount(ctx context.Context, device string) error {
	if device == "" {
		return fmt.Errorf("device is required")
	}

	if _, err := h.runner.Run(ctx, "umount", device); err != nil {
		return err
	}
	return nil
}

// Format creates a fileSystem filesystem on device, overwriting any existing one
func (h *ExecHostOperations) Format(ctx context.Context, device, fileSystem string) error {
	args, err := mkfsArgs(device, fileSystem)
	if err != nil {
		return err
	}

	if _, err := h.runner.Run(ctx, "mkfs", args...); err != nil {
		return err
	}
	return nil
}

func mkfsArgs(device, fileSystem string) ([]string, error) {
	if device == "" {
		return nil, fmt.Errorf("device is required")
	}
	if !fileSystemPattern.MatchString(fileSystem) {
		return nil, fmt.Errorf("invalid file system type %q", fileSystem)
	}

	args := []string{"-t", fileSystem}
	switch {
	case strings.HasPrefix(fileSystem, "ext"):
		args = append(args, "-F")
	case fileSystem == "xfs", fileSystem == "btrfs":
		args = append(args, "-f")
	}
	return append(args, device), nil
}
