package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/volume"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage the volumes of a service instance",
	Long: `Create, attach, mount, format, unmount, detach and delete block storage
volumes on behalf of the service instance named in the configuration's
instance section.`,
}

// withLifecycle runs fn against a lifecycle manager built from the loaded config
func withLifecycle(cmd *cobra.Command, fn func(ctx context.Context, m *volume.LifecycleManager) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	m, closeStore, err := newLifecycleManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	return fn(ctx, m)
}

func timeoutFlag(cmd *cobra.Command) time.Duration {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return timeout
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create TEMPLATE",
	Short: "Create a volume from a storage template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, func(ctx context.Context, m *volume.LifecycleManager) error {
			id, err := m.CreateVolume(ctx, args[0], timeoutFlag(cmd))
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		})
	},
}

var volumeAttachCmd = &cobra.Command{
	Use:   "attach VOLUME_ID DEVICE",
	Short: "Attach a volume to this host and wait until the device is usable",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, func(ctx context.Context, m *volume.LifecycleManager) error {
			if err := m.AttachVolume(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("✓ Volume %s attached at %s\n", args[0], args[1])
			return nil
		})
	},
}

var volumeDetachCmd = &cobra.Command{
	Use:   "detach VOLUME_ID",
	Short: "Detach a volume from this host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, func(ctx context.Context, m *volume.LifecycleManager) error {
			if err := m.DetachVolume(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Volume %s detached\n", args[0])
			return nil
		})
	},
}

var volumeDeleteCmd = &cobra.Command{
	Use:   "delete VOLUME_ID",
	Short: "Delete a volume and its record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, func(ctx context.Context, m *volume.LifecycleManager) error {
			if err := m.DeleteVolume(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Volume %s deleted\n", args[0])
			return nil
		})
	},
}

var volumeMountCmd = &cobra.Command{
	Use:   "mount DEVICE PATH",
	Short: "Mount an attached device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, func(ctx context.Context, m *volume.LifecycleManager) error {
			if err := m.Mount(ctx, args[0], args[1], timeoutFlag(cmd)); err != nil {
				return err
			}
			fmt.Printf("✓ %s mounted at %s\n", args[0], args[1])
			return nil
		})
	},
}

var volumeUnmountCmd = &cobra.Command{
	Use:   "unmount DEVICE",
	Short: "Unmount a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, func(ctx context.Context, m *volume.LifecycleManager) error {
			if err := m.Unmount(ctx, args[0], timeoutFlag(cmd)); err != nil {
				return err
			}
			fmt.Printf("✓ %s unmounted\n", args[0])
			return nil
		})
	},
}

var volumeFormatCmd = &cobra.Command{
	Use:   "format DEVICE FILESYSTEM",
	Short: "Create a filesystem on a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, func(ctx context.Context, m *volume.LifecycleManager) error {
			if err := m.Format(ctx, args[0], args[1], timeoutFlag(cmd)); err != nil {
				return err
			}
			fmt.Printf("✓ %s formatted as %s\n", args[0], args[1])
			return nil
		})
	},
}

var volumeTemplateCmd = &cobra.Command{
	Use:   "template NAME",
	Short: "Show a storage template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, func(ctx context.Context, m *volume.LifecycleManager) error {
			template, err := m.GetTemplate(ctx, args[0])
			if err != nil {
				return err
			}
			return printStructured(cmd, template, func() {
				fmt.Printf("Name:        %s\n", template.Name)
				fmt.Printf("Size:        %d GiB\n", template.Size)
				fmt.Printf("File system: %s\n", template.FileSystemType)
				if template.VolumeType != "" {
					fmt.Printf("Volume type: %s\n", template.VolumeType)
				}
				if template.DeviceName != "" {
					fmt.Printf("Device:      %s\n", template.DeviceName)
				}
				if template.Path != "" {
					fmt.Printf("Mount path:  %s\n", template.Path)
				}
			})
		})
	},
}

var volumeGetCmd = &cobra.Command{
	Use:   "get VOLUME_ID",
	Short: "Show a volume record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, func(ctx context.Context, m *volume.LifecycleManager) error {
			v, err := m.GetVolume(ctx, args[0])
			if err != nil {
				return err
			}
			return printStructured(cmd, v, func() { printVolumes([]*types.ServiceVolume{v}) })
		})
	},
}

var volumeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the volumes of this service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, func(ctx context.Context, m *volume.LifecycleManager) error {
			volumes, err := m.ListVolumes(ctx)
			if err != nil {
				return err
			}
			return printStructured(cmd, volumes, func() { printVolumes(volumes) })
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{volumeCreateCmd, volumeMountCmd, volumeUnmountCmd, volumeFormatCmd} {
		cmd.Flags().Duration("timeout", 0, "Give up after this long (0 waits as long as the operation takes)")
	}
	for _, cmd := range []*cobra.Command{volumeTemplateCmd, volumeGetCmd, volumeListCmd} {
		cmd.Flags().StringP("output", "o", "text", "Output format (text, json, yaml)")
	}

	volumeCmd.AddCommand(
		volumeCreateCmd,
		volumeAttachCmd,
		volumeDetachCmd,
		volumeDeleteCmd,
		volumeMountCmd,
		volumeUnmountCmd,
		volumeFormatCmd,
		volumeTemplateCmd,
		volumeGetCmd,
		volumeListCmd,
	)
}

// printStructured writes v in the --output format, calling text for plain output
func printStructured(cmd *cobra.Command, v interface{}, text func()) error {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "text", "":
		text()
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printVolumes(volumes []*types.ServiceVolume) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tDEVICE\tTEMPLATE\tLOCATION\tUPDATED")
	for _, v := range volumes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, v.State, v.Device, v.Template, v.Location, v.UpdatedAt.Format(time.RFC3339))
	}
	w.Flush()
}
