package types

import (
	"time"
)

// VolumeState represents the lifecycle phase of a service volume
type VolumeState string

const (
	VolumeStateCreated   VolumeState = "CREATED"
	VolumeStateAttached  VolumeState = "ATTACHED"
	VolumeStateDetached  VolumeState = "DETACHED"
	VolumeStateMounted   VolumeState = "MOUNTED"
	VolumeStateUnmounted VolumeState = "UNMOUNTED"
	VolumeStateFormatted VolumeState = "FORMATTED"
)

// AllVolumeStates lists every known state in lifecycle order
var AllVolumeStates = []VolumeState{
	VolumeStateCreated,
	VolumeStateAttached,
	VolumeStateDetached,
	VolumeStateMounted,
	VolumeStateUnmounted,
	VolumeStateFormatted,
}

// Valid reports whether s is a known volume state
func (s VolumeState) Valid() bool {
	for _, known := range AllVolumeStates {
		if s == known {
			return true
		}
	}
	return false
}

// Owner identifies the service instance a volume belongs to
type Owner struct {
	ApplicationName string `json:"applicationName"`
	ServiceName     string `json:"serviceName"`
}

// IsZero reports whether no owner fields are set
func (o Owner) IsZero() bool {
	return o.ApplicationName == "" && o.ServiceName == ""
}

// Matches reports whether the volume belongs to this owner.
// A zero owner matches every volume.
func (o Owner) Matches(v *ServiceVolume) bool {
	if o.IsZero() {
		return true
	}
	return v.ApplicationName == o.ApplicationName && v.ServiceName == o.ServiceName
}

// ServiceVolume is the persisted record of a volume's association with a service instance
type ServiceVolume struct {
	ID              string      `json:"id"`
	ApplicationName string      `json:"applicationName"`
	ServiceName     string      `json:"serviceName"`
	Device          string      `json:"device,omitempty"`
	State           VolumeState `json:"state"`
	Template        string      `json:"template,omitempty"`
	Location        string      `json:"location,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Owner returns the owning service of the volume
func (v *ServiceVolume) Owner() Owner {
	return Owner{ApplicationName: v.ApplicationName, ServiceName: v.ServiceName}
}

// VolumeMatch selects the record a field update applies to.
// When ID is set the record is matched by ID, otherwise by Device within Owner.
type VolumeMatch struct {
	ID     string `json:"id,omitempty"`
	Device string `json:"device,omitempty"`
	Owner  Owner  `json:"owner"`
}

// MatchID selects a record by volume ID
func MatchID(id string) VolumeMatch {
	return VolumeMatch{ID: id}
}

// MatchOwnedID selects a record by volume ID only if owner holds it
func MatchOwnedID(owner Owner, id string) VolumeMatch {
	return VolumeMatch{ID: id, Owner: owner}
}

// MatchDevice selects the record of owner currently using device
func MatchDevice(owner Owner, device string) VolumeMatch {
	return VolumeMatch{Device: device, Owner: owner}
}

// ByID reports whether the match is keyed by volume ID
func (m VolumeMatch) ByID() bool {
	return m.ID != ""
}

// String renders the match for logs and errors
func (m VolumeMatch) String() string {
	if m.ByID() {
		return "id=" + m.ID
	}
	return "device=" + m.Device
}

// VolumeFields is a partial update of a ServiceVolume.
// Nil fields are left untouched; a non-nil empty Device clears it.
type VolumeFields struct {
	State  *VolumeState `json:"state,omitempty"`
	Device *string      `json:"device,omitempty"`
}

// SetState returns a field set that only changes the state
func SetState(state VolumeState) VolumeFields {
	return VolumeFields{State: &state}
}

// WithDevice adds a device change to the field set
func (f VolumeFields) WithDevice(device string) VolumeFields {
	f.Device = &device
	return f
}

// IsEmpty reports whether the field set changes nothing
func (f VolumeFields) IsEmpty() bool {
	return f.State == nil && f.Device == nil
}

// ApplyTo merges the field set into v
func (f VolumeFields) ApplyTo(v *ServiceVolume) {
	if f.State != nil {
		v.State = *f.State
	}
	if f.Device != nil {
		v.Device = *f.Device
	}
}

// StorageTemplate describes how the provisioning backend should create a volume
type StorageTemplate struct {
	Name           string            `json:"name" yaml:"name"`
	Size           int               `json:"size" yaml:"size"` // GiB
	Path           string            `json:"path,omitempty" yaml:"path,omitempty"`
	NamePrefix     string            `json:"namePrefix,omitempty" yaml:"name_prefix,omitempty"`
	DeviceName     string            `json:"deviceName,omitempty" yaml:"device_name,omitempty"`
	FileSystemType string            `json:"fileSystemType,omitempty" yaml:"file_system_type,omitempty"`
	VolumeType     string            `json:"volumeType,omitempty" yaml:"volume_type,omitempty"`
	DeleteOnExit   bool              `json:"deleteOnExit,omitempty" yaml:"delete_on_exit,omitempty"`
	Custom         map[string]string `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// Member describes a store node reachable over the API
type Member struct {
	NodeID   string    `json:"nodeId"`
	RaftAddr string    `json:"raftAddr"`
	APIAddr  string    `json:"apiAddr"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ClusterServer is one server in the Raft configuration
type ClusterServer struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Suffrage string `json:"suffrage"`
	Leader   bool   `json:"leader"`
}

// ClusterInfo summarizes the state store cluster as seen by one node
type ClusterInfo struct {
	NodeID       string          `json:"nodeId"`
	LeaderID     string          `json:"leaderId"`
	LeaderAddr   string          `json:"leaderAddr"`
	Servers      []ClusterServer `json:"servers"`
	Members      []*Member       `json:"members"`
	LastIndex    uint64          `json:"lastIndex"`
	AppliedIndex uint64          `json:"appliedIndex"`
}
