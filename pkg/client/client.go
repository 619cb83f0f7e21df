package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultTimeout bounds calls whose context has no deadline
const DefaultTimeout = 10 * time.Second

// Options configures a client connection
type Options struct {
	// CertDir enables mutual TLS with node.crt, node.key and ca.crt from this directory
	CertDir string
	Timeout time.Duration
}

// Client is a VolumeStore API client. It satisfies volume.StateStore, so a
// service instance can keep its volume state in a remote store cluster.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial creates a client for the API at addr. The connection is established lazily.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	creds := insecure.NewCredentials()
	if opts.CertDir != "" {
		tlsConfig, err := security.ClientTLSConfig(opts.CertDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	c := NewFromConn(conn)
	if opts.Timeout > 0 {
		c.timeout = opts.Timeout
	}
	return c, nil
}

// NewFromConn wraps an existing connection
func NewFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, timeout: DefaultTimeout}
}

// Dialer returns a manager.Dialer that connects with opts
func Dialer(opts Options) manager.Dialer {
	return func(ctx context.Context, addr string) (manager.LeaderClient, error) {
		return Dial(ctx, addr, opts)
	}
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// invoke calls method with req and decodes the reply into resp when it is not nil
func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	in, err := api.Encode(req)
	if err != nil {
		return err
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return api.FromStatus(err)
	}

	if resp == nil {
		return nil
	}
	return api.Decode(out, resp)
}

// CreateVolume inserts a volume record
func (c *Client) CreateVolume(ctx context.Context, volume *types.ServiceVolume) error {
	return c.invoke(ctx, api.MethodCreateVolume, api.VolumeMessage{Volume: volume}, nil)
}

// UpdateVolumeFields merges fields into the record selected by match
func (c *Client) UpdateVolumeFields(ctx context.Context, match types.VolumeMatch, fields types.VolumeFields) error {
	return c.invoke(ctx, api.MethodUpdateVolumeFields, api.UpdateFieldsRequest{Match: match, Fields: fields}, nil)
}

// DeleteVolume removes a volume record
func (c *Client) DeleteVolume(ctx context.Context, id string) error {
	return c.invoke(ctx, api.MethodDeleteVolume, api.IDRequest{ID: id}, nil)
}

// GetVolume returns a volume record by ID
func (c *Client) GetVolume(ctx context.Context, id string) (*types.ServiceVolume, error) {
	var resp api.VolumeMessage
	if err := c.invoke(ctx, api.MethodGetVolume, api.IDRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.Volume, nil
}

// GetVolumeByDevice returns the volume of owner using device
func (c *Client) GetVolumeByDevice(ctx context.Context, owner types.Owner, device string) (*types.ServiceVolume, error) {
	var resp api.VolumeMessage
	if err := c.invoke(ctx, api.MethodGetVolumeByDevice, api.DeviceRequest{Owner: owner, Device: device}, &resp); err != nil {
		return nil, err
	}
	return resp.Volume, nil
}

// ListVolumes returns every volume record
func (c *Client) ListVolumes(ctx context.Context) ([]*types.ServiceVolume, error) {
	var resp api.ListVolumesResponse
	if err := c.invoke(ctx, api.MethodListVolumes, api.Empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Volumes, nil
}

// JoinCluster asks the node at the other end to add a node to the cluster
func (c *Client) JoinCluster(ctx context.Context, req manager.JoinRequest) error {
	return c.invoke(ctx, api.MethodJoinCluster, api.JoinClusterRequest{
		NodeID:   req.NodeID,
		RaftAddr: req.RaftAddr,
		APIAddr:  req.APIAddr,
		Token:    req.Token,
	}, nil)
}

// GenerateJoinToken creates a join token for role on the leader
func (c *Client) GenerateJoinToken(ctx context.Context, role string) (*api.JoinTokenResponse, error) {
	var resp api.JoinTokenResponse
	if err := c.invoke(ctx, api.MethodGenerateJoinToken, api.JoinTokenRequest{Role: role}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClusterInfo describes the cluster as seen by the node at the other end
func (c *Client) ClusterInfo(ctx context.Context) (*types.ClusterInfo, error) {
	var resp types.ClusterInfo
	if err := c.invoke(ctx, api.MethodGetClusterInfo, api.Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
