package provision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

const (
	// DefaultEBSPollInterval is the delay between volume state queries
	DefaultEBSPollInterval = 5 * time.Second

	tagTemplate = "burrow:template"

	errCodeVolumeNotFound = "InvalidVolume.NotFound"
)

// EC2Client is the subset of the EC2 API used by EBSDriver
type EC2Client interface {
	CreateVolume(ctx context.Context, params *ec2.CreateVolumeInput, optFns ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error)
	AttachVolume(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error)
	DetachVolume(ctx context.Context, params *ec2.DetachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DetachVolumeOutput, error)
	DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// NewEC2Client creates an EC2 client from the default AWS credential chain
func NewEC2Client(ctx context.Context, region string) (*ec2.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return ec2.NewFromConfig(cfg), nil
}

// EBSDriver provisions EBS volumes. Locations are availability zones and bind
// addresses are instance private IPs or instance IDs.
type EBSDriver struct {
	client       EC2Client
	templates    *Templates
	clock        clock.Clock
	pollInterval time.Duration
	logger       zerolog.Logger

	mu        sync.Mutex
	instances map[string]string
}

// NewEBSDriver creates a new EBS driver
func NewEBSDriver(client EC2Client, templates *Templates, clk clock.Clock) *EBSDriver {
	if clk == nil {
		clk = clock.WallClock
	}
	return &EBSDriver{
		client:       client,
		templates:    templates,
		clock:        clk,
		pollInterval: DefaultEBSPollInterval,
		logger:       log.WithComponent("ebs-driver"),
		instances:    make(map[string]string),
	}
}

// CreateVolume creates a volume in the availability zone location and waits
// until it is available.
func (d *EBSDriver) CreateVolume(ctx context.Context, templateName, location string) (string, error) {
	template, err := d.templates.Get(templateName)
	if err != nil {
		return "", err
	}

	input, err := createVolumeInput(template, location)
	if err != nil {
		return "", err
	}

	out, err := d.client.CreateVolume(ctx, input)
	if err != nil {
		return "", apiError("CreateVolume", err)
	}
	volumeID := aws.ToString(out.VolumeId)

	d.logger.Info().
		Str("volume_id", volumeID).
		Str("zone", location).
		Int("size_gib", template.Size).
		Msg("Created EBS volume, waiting for it to become available")

	if err := d.waitForVolumeState(ctx, volumeID, ec2types.VolumeStateAvailable); err != nil {
		d.logger.Warn().
			Err(err).
			Str("volume_id", volumeID).
			Str("zone", location).
			Msg("EBS volume was created but never became available, it must be deleted by hand")
		return "", &OrphanedVolumeError{VolumeID: volumeID, Err: err}
	}
	return volumeID, nil
}

// OrphanedVolumeError reports a volume that exists in EC2 but was not handed
// back to the caller, so nothing will record or delete it.
type OrphanedVolumeError struct {
	VolumeID string
	Err      error
}

func (e *OrphanedVolumeError) Error() string {
	return fmt.Sprintf("volume %s created but not usable: %v", e.VolumeID, e.Err)
}

func (e *OrphanedVolumeError) Unwrap() error { return e.Err }

func createVolumeInput(template *types.StorageTemplate, zone string) (*ec2.CreateVolumeInput, error) {
	if zone == "" {
		return nil, fmt.Errorf("availability zone is required")
	}

	tags := []ec2types.Tag{{Key: aws.String(tagTemplate), Value: aws.String(template.Name)}}
	if template.NamePrefix != "" {
		tags = append(tags, ec2types.Tag{Key: aws.String("Name"), Value: aws.String(template.NamePrefix + template.Name)})
	}

	input := &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String(zone),
		Size:             aws.Int32(int32(template.Size)),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeVolume,
			Tags:         tags,
		}},
	}
	if template.VolumeType != "" {
		input.VolumeType = ec2types.VolumeType(template.VolumeType)
	}

	if iops, ok := template.Custom["iops"]; ok {
		n, err := strconv.ParseInt(iops, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("template %s: invalid iops %q", template.Name, iops)
		}
		input.Iops = aws.Int32(int32(n))
	}
	if encrypted, ok := template.Custom["encrypted"]; ok {
		b, err := strconv.ParseBool(encrypted)
		if err != nil {
			return nil, fmt.Errorf("template %s: invalid encrypted flag %q", template.Name, encrypted)
		}
		input.Encrypted = aws.Bool(b)
	}
	return input, nil
}

// AttachVolume attaches volumeID to the instance at bindAddress as device
func (d *EBSDriver) AttachVolume(ctx context.Context, volumeID, device, bindAddress string) error {
	instanceID, err := d.resolveInstance(ctx, bindAddress)
	if err != nil {
		return err
	}

	_, err = d.client.AttachVolume(ctx, &ec2.AttachVolumeInput{
		Device:     aws.String(device),
		InstanceId: aws.String(instanceID),
		VolumeId:   aws.String(volumeID),
	})
	if err != nil {
		return apiError("AttachVolume", err)
	}
	return nil
}

// DetachVolume detaches volumeID from the instance at bindAddress
func (d *EBSDriver) DetachVolume(ctx context.Context, volumeID, bindAddress string) error {
	instanceID, err := d.resolveInstance(ctx, bindAddress)
	if err != nil {
		return err
	}

	_, err = d.client.DetachVolume(ctx, &ec2.DetachVolumeInput{
		InstanceId: aws.String(instanceID),
		VolumeId:   aws.String(volumeID),
	})
	if err != nil {
		return apiError("DetachVolume", err)
	}
	return nil
}

// DeleteVolume deletes volumeID. A volume that no longer exists is not an error.
func (d *EBSDriver) DeleteVolume(ctx context.Context, location, volumeID string) error {
	_, err := d.client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(volumeID)})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == errCodeVolumeNotFound {
			return nil
		}
		return apiError("DeleteVolume", err)
	}
	return nil
}

// GetTemplate returns the named template
func (d *EBSDriver) GetTemplate(name string) (*types.StorageTemplate, error) {
	return d.templates.Get(name)
}

// AttachmentReady reports whether volumeID is attached to the instance at bindAddress
func (d *EBSDriver) AttachmentReady(ctx context.Context, volumeID, bindAddress string) (bool, error) {
	instanceID, err := d.resolveInstance(ctx, bindAddress)
	if err != nil {
		return false, err
	}

	vol, err := d.describeVolume(ctx, volumeID)
	if err != nil {
		return false, err
	}

	for _, attachment := range vol.Attachments {
		if aws.ToString(attachment.InstanceId) == instanceID &&
			attachment.State == ec2types.VolumeAttachmentStateAttached {
			return true, nil
		}
	}
	return false, nil
}

func (d *EBSDriver) describeVolume(ctx context.Context, volumeID string) (*ec2types.Volume, error) {
	out, err := d.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{volumeID}})
	if err != nil {
		return nil, apiError("DescribeVolumes", err)
	}
	if len(out.Volumes) == 0 {
		return nil, fmt.Errorf("volume %s not found", volumeID)
	}
	return &out.Volumes[0], nil
}

func (d *EBSDriver) waitForVolumeState(ctx context.Context, volumeID string, want ec2types.VolumeState) error {
	for {
		vol, err := d.describeVolume(ctx, volumeID)
		if err != nil {
			return err
		}

		switch vol.State {
		case want:
			return nil
		case ec2types.VolumeStateError:
			return fmt.Errorf("volume %s entered the error state", volumeID)
		}

		d.logger.Debug().
			Str("volume_id", volumeID).
			Str("state", string(vol.State)).
			Msg("Waiting for volume state")

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for volume %s to become %s: %w", volumeID, want, ctx.Err())
		case <-d.clock.After(d.pollInterval):
		}
	}
}

// resolveInstance maps a bind address to an instance ID, caching the result
func (d *EBSDriver) resolveInstance(ctx context.Context, bindAddress string) (string, error) {
	if strings.HasPrefix(bindAddress, "i-") {
		return bindAddress, nil
	}

	d.mu.Lock()
	instanceID, ok := d.instances[bindAddress]
	d.mu.Unlock()
	if ok {
		return instanceID, nil
	}

	out, err := d.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("private-ip-address"),
			Values: []string{bindAddress},
		}},
	})
	if err != nil {
		return "", apiError("DescribeInstances", err)
	}

	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			if id := aws.ToString(instance.InstanceId); id != "" {
				d.mu.Lock()
				d.instances[bindAddress] = id
				d.mu.Unlock()
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("no instance found with private address %s", bindAddress)
}

func apiError(operation string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("ec2 %s failed (%s): %s: %w", operation, ae.ErrorCode(), ae.ErrorMessage(), err)
	}
	return fmt.Errorf("ec2 %s failed: %w", operation, err)
}
