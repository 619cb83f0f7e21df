package api

import (
	"context"
	"fmt"
	"net"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "burrow.v1.VolumeStore"

// VolumeStore methods
const (
	MethodCreateVolume       = "CreateVolume"
	MethodUpdateVolumeFields = "UpdateVolumeFields"
	MethodDeleteVolume       = "DeleteVolume"
	MethodGetVolume          = "GetVolume"
	MethodGetVolumeByDevice  = "GetVolumeByDevice"
	MethodListVolumes        = "ListVolumes"
	MethodJoinCluster        = "JoinCluster"
	MethodGenerateJoinToken  = "GenerateJoinToken"
	MethodGetClusterInfo     = "GetClusterInfo"
)

// FullMethod returns the gRPC path of method
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Backend is the store node the API serves
type Backend interface {
	CreateVolume(ctx context.Context, volume *types.ServiceVolume) error
	UpdateVolumeFields(ctx context.Context, match types.VolumeMatch, fields types.VolumeFields) error
	DeleteVolume(ctx context.Context, id string) error
	GetVolume(ctx context.Context, id string) (*types.ServiceVolume, error)
	GetVolumeByDevice(ctx context.Context, owner types.Owner, device string) (*types.ServiceVolume, error)
	ListVolumes(ctx context.Context) ([]*types.ServiceVolume, error)
	JoinCluster(ctx context.Context, req manager.JoinRequest) error
	GenerateJoinToken(role string) (*manager.JoinToken, error)
	ClusterInfo(ctx context.Context) (*types.ClusterInfo, error)
}

// VolumeStoreServer is the server side of the VolumeStore service
type VolumeStoreServer interface {
	CreateVolume(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateVolumeFields(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteVolume(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetVolume(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetVolumeByDevice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListVolumes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	JoinCluster(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GenerateJoinToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetClusterInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type handlerFunc func(VolumeStoreServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, fn handlerFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(VolumeStoreServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(srv.(VolumeStoreServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the VolumeStore service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VolumeStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodCreateVolume, VolumeStoreServer.CreateVolume),
		unaryHandler(MethodUpdateVolumeFields, VolumeStoreServer.UpdateVolumeFields),
		unaryHandler(MethodDeleteVolume, VolumeStoreServer.DeleteVolume),
		unaryHandler(MethodGetVolume, VolumeStoreServer.GetVolume),
		unaryHandler(MethodGetVolumeByDevice, VolumeStoreServer.GetVolumeByDevice),
		unaryHandler(MethodListVolumes, VolumeStoreServer.ListVolumes),
		unaryHandler(MethodJoinCluster, VolumeStoreServer.JoinCluster),
		unaryHandler(MethodGenerateJoinToken, VolumeStoreServer.GenerateJoinToken),
		unaryHandler(MethodGetClusterInfo, VolumeStoreServer.GetClusterInfo),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "burrow/v1/volume_store",
}

// Server implements the VolumeStore gRPC service
type Server struct {
	backend Backend
	grpc    *grpc.Server
	logger  zerolog.Logger
}

// NewServer creates a new API server
func NewServer(backend Backend, opts ...grpc.ServerOption) *Server {
	return newServer(backend, opts, MetricsInterceptor())
}

// NewReadOnlyServer creates an API server that rejects every write and
// throttles each client host to limit
func NewReadOnlyServer(backend Backend, limit RateLimit, opts ...grpc.ServerOption) *Server {
	return newServer(backend, opts, MetricsInterceptor(), RateLimitInterceptor(limit), ReadOnlyInterceptor())
}

func newServer(backend Backend, opts []grpc.ServerOption, interceptors ...grpc.UnaryServerInterceptor) *Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(interceptors...))
	s := &Server{
		backend: backend,
		grpc:    grpc.NewServer(opts...),
		logger:  log.WithComponent("api"),
	}
	s.grpc.RegisterService(&ServiceDesc, s)
	return s
}

// TLSOption returns a server option enabling mutual TLS with the certificates in certDir
func TLSOption(certDir string) (grpc.ServerOption, error) {
	tlsConfig, err := security.ServerTLSConfig(certDir)
	if err != nil {
		return nil, err
	}
	return grpc.Creds(credentials.NewTLS(tlsConfig)), nil
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	return s.Serve(lis)
}

// Serve serves gRPC requests on lis
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC API listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// reply encodes v, or converts err into a status
func reply(v interface{}, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, ToStatus(err)
	}
	return Encode(v)
}

// CreateVolume inserts a volume record
func (s *Server) CreateVolume(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req VolumeMessage
	if err := Decode(in, &req); err != nil {
		return nil, ToStatus(err)
	}
	if req.Volume == nil || req.Volume.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "volume with an id is required")
	}
	return reply(Empty{}, s.backend.CreateVolume(ctx, req.Volume))
}

// UpdateVolumeFields merges fields into a volume record
func (s *Server) UpdateVolumeFields(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req UpdateFieldsRequest
	if err := Decode(in, &req); err != nil {
		return nil, ToStatus(err)
	}
	return reply(Empty{}, s.backend.UpdateVolumeFields(ctx, req.Match, req.Fields))
}

// DeleteVolume removes a volume record
func (s *Server) DeleteVolume(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req IDRequest
	if err := Decode(in, &req); err != nil {
		return nil, ToStatus(err)
	}
	return reply(Empty{}, s.backend.DeleteVolume(ctx, req.ID))
}

// GetVolume returns a volume record by ID
func (s *Server) GetVolume(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req IDRequest
	if err := Decode(in, &req); err != nil {
		return nil, ToStatus(err)
	}
	volume, err := s.backend.GetVolume(ctx, req.ID)
	return reply(VolumeMessage{Volume: volume}, err)
}

// GetVolumeByDevice returns the volume record of an owner using a device
func (s *Server) GetVolumeByDevice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DeviceRequest
	if err := Decode(in, &req); err != nil {
		return nil, ToStatus(err)
	}
	volume, err := s.backend.GetVolumeByDevice(ctx, req.Owner, req.Device)
	return reply(VolumeMessage{Volume: volume}, err)
}

// ListVolumes returns every volume record
func (s *Server) ListVolumes(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	volumes, err := s.backend.ListVolumes(ctx)
	return reply(ListVolumesResponse{Volumes: volumes}, err)
}

// JoinCluster adds the calling node to the cluster
func (s *Server) JoinCluster(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req JoinClusterRequest
	if err := Decode(in, &req); err != nil {
		return nil, ToStatus(err)
	}

	s.logger.Info().
		Str("peer", req.NodeID).
		Str("raft_addr", req.RaftAddr).
		Msg("Join request received")

	err := s.backend.JoinCluster(ctx, manager.JoinRequest{
		NodeID:   req.NodeID,
		RaftAddr: req.RaftAddr,
		APIAddr:  req.APIAddr,
		Token:    req.Token,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("peer", req.NodeID).Msg("Join request failed")
	}
	return reply(Empty{}, err)
}

// GenerateJoinToken creates a join token on the leader
func (s *Server) GenerateJoinToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req JoinTokenRequest
	if err := Decode(in, &req); err != nil {
		return nil, ToStatus(err)
	}
	if req.Role == "" {
		req.Role = manager.RoleVoter
	}

	jt, err := s.backend.GenerateJoinToken(req.Role)
	if err != nil {
		return nil, ToStatus(err)
	}
	return Encode(JoinTokenResponse{Token: jt.Token, Role: jt.Role, ExpiresAt: jt.ExpiresAt})
}

// GetClusterInfo describes the cluster as seen by this node
func (s *Server) GetClusterInfo(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	info, err := s.backend.ClusterInfo(ctx)
	return reply(info, err)
}
