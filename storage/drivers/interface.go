package drivers

import (
	"context"

	"github.com/sanlink/sanlink/shared/api"
	"github.com/sanlink/sanlink/shared/logger"
)

// driver is the internal interface the loader uses on top of Driver.
type driver interface {
	Driver

	init(name string, config map[string]string, l logger.Logger)
	load(ctx context.Context) error
}

// Driver represents a low-level storage array backend.
type Driver interface {
	// Info returns the properties of the driver and the connected array.
	Info() Info

	// Name returns the name the backend was loaded under.
	Name() string

	// Config returns the backend configuration.
	Config() map[string]string

	// Logger returns the backend logger.
	Logger() logger.Logger

	// Validate checks that the provided configuration is sound.
	Validate(config map[string]string) error

	// GetResources returns the capacity counters of the backing store.
	GetResources(ctx context.Context) (*api.ResourcesStoragePool, error)

	// ListVolumes returns the volumes present on the array.
	ListVolumes(ctx context.Context) ([]Volume, error)

	// CreateVolume creates a new volume. An existing volume of the same name
	// is adopted rather than treated as a failure.
	CreateVolume(ctx context.Context, vol Volume) error

	// CreateVolumeFromSnapshot creates a new volume holding the snapshot contents.
	CreateVolumeFromSnapshot(ctx context.Context, vol Volume, snap Snapshot) error

	// CreateVolumeCopy creates a new volume holding a copy of another volume.
	CreateVolumeCopy(ctx context.Context, vol Volume, srcVol Volume) error

	// DeleteVolume removes a volume. A volume already gone is not a failure.
	DeleteVolume(ctx context.Context, vol Volume) error

	// ExtendVolume grows a volume to the new size.
	ExtendVolume(ctx context.Context, vol Volume, newSizeGiB int64) error

	// RenameVolume renames a volume.
	RenameVolume(ctx context.Context, vol Volume, newName string) error

	// ManageVolume takes over a pre-existing array volume under the given name.
	ManageVolume(ctx context.Context, vol Volume, sourceName string) error

	// ManageVolumeGetSize returns the size in GiB of a candidate for ManageVolume.
	ManageVolumeGetSize(ctx context.Context, sourceName string) (int64, error)

	// UnmanageVolume releases a volume from management without deleting it.
	UnmanageVolume(ctx context.Context, vol Volume) error

	// CreateVolumeSnapshot takes a snapshot of a volume.
	CreateVolumeSnapshot(ctx context.Context, snap Snapshot) error

	// DeleteVolumeSnapshot removes a snapshot. A snapshot already gone is not a failure.
	DeleteVolumeSnapshot(ctx context.Context, snap Snapshot) error

	// InitializeConnection attaches a volume to the connecting host and
	// returns everything the host needs to reach the block device.
	InitializeConnection(ctx context.Context, vol Volume, conn *Connector) (*ConnectionInfo, error)

	// TerminateConnection detaches a volume from the connecting host. For
	// Fibre Channel backends the returned info carries the zoning to tear
	// down once the host's last volume is gone.
	TerminateConnection(ctx context.Context, vol Volume, conn *Connector) (*ConnectionInfo, error)

	// CreateConsistencyGroup creates a consistency group holding the given volumes.
	CreateConsistencyGroup(ctx context.Context, name string, volumes []Volume) error

	// DeleteConsistencyGroup removes a consistency group and its member volumes.
	DeleteConsistencyGroup(ctx context.Context, name string, volumes []Volume) error

	// UpdateConsistencyGroup adjusts the membership of a consistency group.
	UpdateConsistencyGroup(ctx context.Context, name string, addVolumes []Volume, removeVolumes []Volume) error

	// CreateConsistencyGroupSnapshot snapshots every member of a consistency group.
	CreateConsistencyGroupSnapshot(ctx context.Context, cgName string, snapName string) error

	// DeleteConsistencyGroupSnapshot removes a group snapshot and its member snapshots.
	DeleteConsistencyGroupSnapshot(ctx context.Context, cgName string, snapName string, snapshots []Snapshot) error

	// CreateConsistencyGroupFromSource creates a consistency group populated
	// from either a group snapshot or another group.
	CreateConsistencyGroupFromSource(ctx context.Context, name string, volumes []Volume, sourceCG string, sourceVolumes []Volume, cgSnapshot string, snapshots []Snapshot) error
}
