package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request and response bodies of the VolumeStore service. On the wire each
// body travels as a google.protobuf.Struct holding its JSON form.

// VolumeMessage carries a single volume record
type VolumeMessage struct {
	Volume *types.ServiceVolume `json:"volume"`
}

// UpdateFieldsRequest merges Fields into the record selected by Match
type UpdateFieldsRequest struct {
	Match  types.VolumeMatch  `json:"match"`
	Fields types.VolumeFields `json:"fields"`
}

// IDRequest names a volume by ID
type IDRequest struct {
	ID string `json:"id"`
}

// DeviceRequest names the volume of Owner using Device
type DeviceRequest struct {
	Owner  types.Owner `json:"owner"`
	Device string      `json:"device"`
}

// ListVolumesResponse carries every volume record
type ListVolumesResponse struct {
	Volumes []*types.ServiceVolume `json:"volumes"`
}

// JoinClusterRequest asks the leader to add a node
type JoinClusterRequest struct {
	NodeID   string `json:"nodeId"`
	RaftAddr string `json:"raftAddr"`
	APIAddr  string `json:"apiAddr"`
	Token    string `json:"token"`
}

// JoinTokenRequest asks for a new join token
type JoinTokenRequest struct {
	Role string `json:"role"`
}

// JoinTokenResponse carries a generated join token
type JoinTokenResponse struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Empty is the body of requests and responses without fields
type Empty struct{}

// Encode converts v into its Struct wire form
func Encode(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return s, nil
}

// Decode fills v from its Struct wire form
func Decode(s *structpb.Struct, v interface{}) error {
	if s == nil {
		s = &structpb.Struct{}
	}

	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}
