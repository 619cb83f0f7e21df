package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/juju/clock/testclock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEC2 dispatches each API call to an optional function
type fakeEC2 struct {
	createVolume      func(*ec2.CreateVolumeInput) (*ec2.CreateVolumeOutput, error)
	attachVolume      func(*ec2.AttachVolumeInput) (*ec2.AttachVolumeOutput, error)
	detachVolume      func(*ec2.DetachVolumeInput) (*ec2.DetachVolumeOutput, error)
	deleteVolume      func(*ec2.DeleteVolumeInput) (*ec2.DeleteVolumeOutput, error)
	describeVolumes   func(*ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error)
	describeInstances func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error)

	describeInstanceCalls int
}

func (f *fakeEC2) CreateVolume(ctx context.Context, in *ec2.CreateVolumeInput, _ ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error) {
	return f.createVolume(in)
}

func (f *fakeEC2) AttachVolume(ctx context.Context, in *ec2.AttachVolumeInput, _ ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error) {
	return f.attachVolume(in)
}

func (f *fakeEC2) DetachVolume(ctx context.Context, in *ec2.DetachVolumeInput, _ ...func(*ec2.Options)) (*ec2.DetachVolumeOutput, error) {
	return f.detachVolume(in)
}

func (f *fakeEC2) DeleteVolume(ctx context.Context, in *ec2.DeleteVolumeInput, _ ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
	return f.deleteVolume(in)
}

func (f *fakeEC2) DescribeVolumes(ctx context.Context, in *ec2.DescribeVolumesInput, _ ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	return f.describeVolumes(in)
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.describeInstanceCalls++
	if f.describeInstances == nil {
		return &ec2.DescribeInstancesOutput{
			Reservations: []ec2types.Reservation{{
				Instances: []ec2types.Instance{{InstanceId: aws.String("i-0abc")}},
			}},
		}, nil
	}
	return f.describeInstances(in)
}

func volumeInState(id string, state ec2types.VolumeState, attachments ...ec2types.VolumeAttachment) *ec2.DescribeVolumesOutput {
	return &ec2.DescribeVolumesOutput{
		Volumes: []ec2types.Volume{{VolumeId: aws.String(id), State: state, Attachments: attachments}},
	}
}

func ebsTemplates(t *testing.T) *Templates {
	t.Helper()
	templates, err := NewTemplates([]types.StorageTemplate{
		{Name: "small", Size: 20, VolumeType: "gp3", NamePrefix: "shop-", Custom: map[string]string{"iops": "3000", "encrypted": "true"}},
		{Name: "bad-iops", Size: 20, Custom: map[string]string{"iops": "lots"}},
	})
	require.NoError(t, err)
	return templates
}

func TestEBSDriver_CreateVolume(t *testing.T) {
	var created *ec2.CreateVolumeInput
	client := &fakeEC2{
		createVolume: func(in *ec2.CreateVolumeInput) (*ec2.CreateVolumeOutput, error) {
			created = in
			return &ec2.CreateVolumeOutput{VolumeId: aws.String("vol-0123")}, nil
		},
		describeVolumes: func(in *ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
			return volumeInState("vol-0123", ec2types.VolumeStateAvailable), nil
		},
	}
	driver := NewEBSDriver(client, ebsTemplates(t), testclock.NewClock(time.Now()))

	id, err := driver.CreateVolume(context.Background(), "small", "eu-west-1a")
	require.NoError(t, err)
	assert.Equal(t, "vol-0123", id)

	require.NotNil(t, created)
	assert.Equal(t, "eu-west-1a", aws.ToString(created.AvailabilityZone))
	assert.Equal(t, int32(20), aws.ToInt32(created.Size))
	assert.Equal(t, ec2types.VolumeTypeGp3, created.VolumeType)
	assert.Equal(t, int32(3000), aws.ToInt32(created.Iops))
	assert.True(t, aws.ToBool(created.Encrypted))
	require.Len(t, created.TagSpecifications, 1)
	assert.Equal(t, ec2types.ResourceTypeVolume, created.TagSpecifications[0].ResourceType)
	assert.Len(t, created.TagSpecifications[0].Tags, 2)
}

func TestEBSDriver_CreateVolume_WaitsForAvailable(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	describes := 0
	client := &fakeEC2{
		createVolume: func(in *ec2.CreateVolumeInput) (*ec2.CreateVolumeOutput, error) {
			return &ec2.CreateVolumeOutput{VolumeId: aws.String("vol-0123")}, nil
		},
		describeVolumes: func(in *ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
			describes++
			if describes == 1 {
				return volumeInState("vol-0123", ec2types.VolumeStateCreating), nil
			}
			return volumeInState("vol-0123", ec2types.VolumeStateAvailable), nil
		},
	}
	driver := NewEBSDriver(client, ebsTemplates(t), clk)

	done := make(chan error, 1)
	go func() {
		_, err := driver.CreateVolume(context.Background(), "small", "eu-west-1a")
		done <- err
	}()

	require.NoError(t, clk.WaitAdvance(DefaultEBSPollInterval, 2*time.Second, 1))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("create did not return")
	}
	assert.Equal(t, 2, describes)
}

func TestEBSDriver_CreateVolume_ErrorState(t *testing.T) {
	client := &fakeEC2{
		createVolume: func(in *ec2.CreateVolumeInput) (*ec2.CreateVolumeOutput, error) {
			return &ec2.CreateVolumeOutput{VolumeId: aws.String("vol-0123")}, nil
		},
		describeVolumes: func(in *ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
			return volumeInState("vol-0123", ec2types.VolumeStateError), nil
		},
	}
	driver := NewEBSDriver(client, ebsTemplates(t), testclock.NewClock(time.Now()))
	var buf bytes.Buffer
	driver.logger = zerolog.New(&buf)

	_, err := driver.CreateVolume(context.Background(), "small", "eu-west-1a")
	assert.ErrorContains(t, err, "error state")

	var orphaned *OrphanedVolumeError
	require.ErrorAs(t, err, &orphaned)
	assert.Equal(t, "vol-0123", orphaned.VolumeID)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "vol-0123", entry["volume_id"])
}

func TestEBSDriver_CreateVolume_CancelledWaitKeepsID(t *testing.T) {
	client := &fakeEC2{
		createVolume: func(in *ec2.CreateVolumeInput) (*ec2.CreateVolumeOutput, error) {
			return &ec2.CreateVolumeOutput{VolumeId: aws.String("vol-0456")}, nil
		},
		describeVolumes: func(in *ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
			return volumeInState("vol-0456", ec2types.VolumeStateCreating), nil
		},
	}
	driver := NewEBSDriver(client, ebsTemplates(t), testclock.NewClock(time.Now()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := driver.CreateVolume(ctx, "small", "eu-west-1a")

	var orphaned *OrphanedVolumeError
	require.ErrorAs(t, err, &orphaned)
	assert.Equal(t, "vol-0456", orphaned.VolumeID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEBSDriver_CreateVolume_InvalidInput(t *testing.T) {
	driver := NewEBSDriver(&fakeEC2{}, ebsTemplates(t), testclock.NewClock(time.Now()))

	_, err := driver.CreateVolume(context.Background(), "small", "")
	assert.ErrorContains(t, err, "availability zone")

	_, err = driver.CreateVolume(context.Background(), "bad-iops", "eu-west-1a")
	assert.ErrorContains(t, err, "invalid iops")

	_, err = driver.CreateVolume(context.Background(), "missing", "eu-west-1a")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestEBSDriver_APIErrorIsWrapped(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "VolumeLimitExceeded", Message: "too many volumes"}
	client := &fakeEC2{
		createVolume: func(in *ec2.CreateVolumeInput) (*ec2.CreateVolumeOutput, error) {
			return nil, apiErr
		},
	}
	driver := NewEBSDriver(client, ebsTemplates(t), testclock.NewClock(time.Now()))

	_, err := driver.CreateVolume(context.Background(), "small", "eu-west-1a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VolumeLimitExceeded")

	var ae smithy.APIError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "too many volumes", ae.ErrorMessage())
}

func TestEBSDriver_AttachAndDetach(t *testing.T) {
	var attached *ec2.AttachVolumeInput
	var detached *ec2.DetachVolumeInput
	var filter ec2types.Filter
	client := &fakeEC2{
		attachVolume: func(in *ec2.AttachVolumeInput) (*ec2.AttachVolumeOutput, error) {
			attached = in
			return &ec2.AttachVolumeOutput{}, nil
		},
		detachVolume: func(in *ec2.DetachVolumeInput) (*ec2.DetachVolumeOutput, error) {
			detached = in
			return &ec2.DetachVolumeOutput{}, nil
		},
		describeInstances: func(in *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
			filter = in.Filters[0]
			return &ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{
					Instances: []ec2types.Instance{{InstanceId: aws.String("i-0abc")}},
				}},
			}, nil
		},
	}
	driver := NewEBSDriver(client, ebsTemplates(t), testclock.NewClock(time.Now()))
	ctx := context.Background()

	require.NoError(t, driver.AttachVolume(ctx, "vol-0123", "/dev/xvdf", "10.0.0.12"))
	assert.Equal(t, "private-ip-address", aws.ToString(filter.Name))
	assert.Equal(t, []string{"10.0.0.12"}, filter.Values)
	assert.Equal(t, "i-0abc", aws.ToString(attached.InstanceId))
	assert.Equal(t, "/dev/xvdf", aws.ToString(attached.Device))
	assert.Equal(t, "vol-0123", aws.ToString(attached.VolumeId))

	require.NoError(t, driver.DetachVolume(ctx, "vol-0123", "10.0.0.12"))
	assert.Equal(t, "i-0abc", aws.ToString(detached.InstanceId))

	// The instance lookup is cached per bind address
	assert.Equal(t, 1, client.describeInstanceCalls)

	// Instance IDs are used as-is
	require.NoError(t, driver.AttachVolume(ctx, "vol-0123", "/dev/xvdg", "i-0def"))
	assert.Equal(t, "i-0def", aws.ToString(attached.InstanceId))
	assert.Equal(t, 1, client.describeInstanceCalls)
}

func TestEBSDriver_UnknownInstance(t *testing.T) {
	client := &fakeEC2{
		describeInstances: func(in *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
			return &ec2.DescribeInstancesOutput{}, nil
		},
	}
	driver := NewEBSDriver(client, ebsTemplates(t), testclock.NewClock(time.Now()))

	err := driver.AttachVolume(context.Background(), "vol-0123", "/dev/xvdf", "10.0.0.99")
	assert.ErrorContains(t, err, "no instance found")
}

func TestEBSDriver_DeleteVolume(t *testing.T) {
	calls := 0
	client := &fakeEC2{
		deleteVolume: func(in *ec2.DeleteVolumeInput) (*ec2.DeleteVolumeOutput, error) {
			calls++
			switch aws.ToString(in.VolumeId) {
			case "vol-gone":
				return nil, &smithy.GenericAPIError{Code: errCodeVolumeNotFound, Message: "not found"}
			case "vol-busy":
				return nil, &smithy.GenericAPIError{Code: "VolumeInUse", Message: "attached"}
			}
			return &ec2.DeleteVolumeOutput{}, nil
		},
	}
	driver := NewEBSDriver(client, ebsTemplates(t), testclock.NewClock(time.Now()))
	ctx := context.Background()

	assert.NoError(t, driver.DeleteVolume(ctx, "eu-west-1a", "vol-0123"))
	assert.NoError(t, driver.DeleteVolume(ctx, "eu-west-1a", "vol-gone"))
	assert.ErrorContains(t, driver.DeleteVolume(ctx, "eu-west-1a", "vol-busy"), "VolumeInUse")
	assert.Equal(t, 3, calls)
}

func TestEBSDriver_AttachmentReady(t *testing.T) {
	state := ec2types.VolumeAttachmentStateAttaching
	client := &fakeEC2{
		describeVolumes: func(in *ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
			return volumeInState("vol-0123", ec2types.VolumeStateInUse, ec2types.VolumeAttachment{
				InstanceId: aws.String("i-0abc"),
				State:      state,
			}), nil
		},
	}
	driver := NewEBSDriver(client, ebsTemplates(t), testclock.NewClock(time.Now()))
	ctx := context.Background()

	ready, err := driver.AttachmentReady(ctx, "vol-0123", "10.0.0.12")
	require.NoError(t, err)
	assert.False(t, ready)

	state = ec2types.VolumeAttachmentStateAttached
	ready, err = driver.AttachmentReady(ctx, "vol-0123", "10.0.0.12")
	require.NoError(t, err)
	assert.True(t, ready)

	// Attached to a different instance
	ready, err = driver.AttachmentReady(ctx, "vol-0123", "i-0other")
	require.NoError(t, err)
	assert.False(t, ready)
}
