/*
Package api serves the burrow.v1.VolumeStore gRPC service and the HTTP health
endpoints of a store node.

The service is registered from a hand-written grpc.ServiceDesc. Requests and
responses are google.protobuf.Struct messages carrying the JSON form of the
types in this package, so no generated code is needed:

	CreateVolume        VolumeMessage       -> Empty
	UpdateVolumeFields  UpdateFieldsRequest -> Empty
	DeleteVolume        IDRequest           -> Empty
	GetVolume           IDRequest           -> VolumeMessage
	GetVolumeByDevice   DeviceRequest       -> VolumeMessage
	ListVolumes         Empty               -> ListVolumesResponse
	JoinCluster         JoinClusterRequest  -> Empty
	GenerateJoinToken   JoinTokenRequest    -> JoinTokenResponse
	GetClusterInfo      Empty               -> types.ClusterInfo

Store errors travel as gRPC status codes (NotFound, AlreadyExists,
FailedPrecondition, Unauthenticated, Unavailable) and FromStatus turns them back into the
matching sentinel so errors.Is keeps working on the client side.

NewReadOnlyServer exposes the same service for dashboards: Get and List calls
only, throttled per client host.

HealthServer serves /health, /ready, /live, /components and /metrics. A node
is ready when it knows a leader and can read its local records.
*/
package api
