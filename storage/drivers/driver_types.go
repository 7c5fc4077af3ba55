package drivers

// Protocols a backend can expose volumes over.
const (
	ProtocolISCSI = "iscsi"
	ProtocolFC    = "fc"
)

// Info represents information about a storage driver.
type Info struct {
	Name              string // Name of the driver.
	Version           string // Array software version discovered at load time.
	Protocol          string // Protocol the backend exposes volumes over.
	Remote            bool   // Whether the driver uses a remote backing store.
	ConsistencyGroups bool   // Whether the array supports consistency groups.
	Multiattach       bool   // Whether a volume can be attached to several hosts at once.
}

// Volume represents a block volume on a storage array.
// Names are supplied by the caller and are typically its own resource UUIDs.
type Volume struct {
	Name             string
	SizeGiB          int64
	ConsistencyGroup string // Optional consistency group the volume belongs to.
}

// Snapshot represents a point in time snapshot of a volume.
type Snapshot struct {
	Name   string
	Volume string // Name of the source volume.

	// ConsistencyGroupSnapshot optionally names the group snapshot the
	// snapshot was taken as part of.
	ConsistencyGroupSnapshot string
}

// Connector describes the host that wants to reach a volume.
type Connector struct {
	Host  string
	IQN   string   // iSCSI initiator qualified name.
	WWPNs []string // Fibre Channel port names.
}

// ChapCredentials are the CHAP secrets handed to an iSCSI initiator.
type ChapCredentials struct {
	LoginUser         string
	LoginPassword     string
	DiscoveryUser     string
	DiscoveryPassword string
}

// ConnectionInfo describes an established volume attachment, with everything
// the host needs to bring up the block device.
type ConnectionInfo struct {
	Protocol string
	LUN      int

	// iSCSI attachment details.
	TargetIQN    string
	TargetPortal string
	Chap         *ChapCredentials

	// Fibre Channel attachment details. TargetMap lists the reachable array
	// ports per initiator port, for zoning.
	TargetWWNs []string
	TargetMap  map[string][]string
}
