package drivers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sanlink/sanlink/shared/logger"
	"github.com/sanlink/sanlink/shared/revert"
	"github.com/sanlink/sanlink/storage/drivers/clients"
)

const unityGiB = 1024 * 1024 * 1024

// CreateVolume creates a new LUN. An existing LUN of the same name is adopted
// rather than treated as a failure.
func (d *unity) CreateVolume(ctx context.Context, vol Volume) error {
	_, err := d.client.CreateLUN(ctx, d.pool.ID, vol.Name, vol.SizeGiB*unityGiB)
	if err != nil {
		if !clients.IsErrorKind(err, clients.ErrorKindDuplicateName) {
			return fmt.Errorf("Failed to create volume %q: %w", vol.Name, err)
		}

		d.logger.Info("Volume already exists, adopting it", logger.Ctx{"volume": vol.Name})

		_, err = d.client.GetLUNByName(ctx, vol.Name)
		if err != nil {
			return fmt.Errorf("Failed to fetch existing volume %q: %w", vol.Name, err)
		}
	}

	return nil
}

// CreateVolumeFromSnapshot creates a new LUN holding the snapshot contents.
func (d *unity) CreateVolumeFromSnapshot(ctx context.Context, vol Volume, snap Snapshot) error {
	arraySnap, err := d.client.GetSnapshotByName(ctx, snap.Name)
	if err != nil {
		return fmt.Errorf("Failed to fetch snapshot %q: %w", snap.Name, err)
	}

	_, err = d.client.CreateLUNFromSnapshot(ctx, arraySnap.ID, vol.Name)
	if err != nil {
		return fmt.Errorf("Failed to create volume %q from snapshot %q: %w", vol.Name, snap.Name, err)
	}

	return nil
}

// CreateVolumeCopy creates a new LUN holding a copy of another volume, going
// through a throwaway snapshot.
func (d *unity) CreateVolumeCopy(ctx context.Context, vol Volume, srcVol Volume) error {
	srcLUN, err := d.client.GetLUNByName(ctx, srcVol.Name)
	if err != nil {
		return fmt.Errorf("Failed to fetch source volume %q: %w", srcVol.Name, err)
	}

	reverter := revert.New()
	defer reverter.Fail()

	snapName := uuid.New().String()
	snap, err := d.client.CreateSnapshot(ctx, srcLUN.ID, snapName)
	if err != nil {
		return fmt.Errorf("Failed to snapshot source volume %q: %w", srcVol.Name, err)
	}

	reverter.Add(func() {
		_ = d.client.DeleteSnapshot(context.Background(), snap.ID)
	})

	_, err = d.client.CreateLUNFromSnapshot(ctx, snap.ID, vol.Name)
	if err != nil {
		return fmt.Errorf("Failed to copy volume %q to %q: %w", srcVol.Name, vol.Name, err)
	}

	reverter.Success()
	return nil
}

// DeleteVolume removes a LUN. A LUN already gone is not a failure.
func (d *unity) DeleteVolume(ctx context.Context, vol Volume) error {
	lun, err := d.client.GetLUNByName(ctx, vol.Name)
	if err != nil {
		if clients.IsNotFound(err) {
			d.logger.Info("Volume already gone from array", logger.Ctx{"volume": vol.Name})
			return nil
		}

		return err
	}

	err = d.client.DeleteLUN(ctx, lun.ID)
	if err != nil && !clients.IsNotFound(err) {
		return fmt.Errorf("Failed to delete volume %q: %w", vol.Name, err)
	}

	return nil
}

// ExtendVolume grows a LUN to the new size. The array rejects a resize to the
// current size, which is not a failure here.
func (d *unity) ExtendVolume(ctx context.Context, vol Volume, newSizeGiB int64) error {
	lun, err := d.client.GetLUNByName(ctx, vol.Name)
	if err != nil {
		return fmt.Errorf("Failed to fetch volume %q: %w", vol.Name, err)
	}

	err = d.client.ExtendLUN(ctx, lun.ID, newSizeGiB*unityGiB)
	if err != nil {
		if clients.IsUnityNothingToModify(err) {
			d.logger.Debug("Volume already at the requested size", logger.Ctx{"volume": vol.Name})
			return nil
		}

		return fmt.Errorf("Failed to extend volume %q: %w", vol.Name, err)
	}

	return nil
}

// RenameVolume renames a LUN.
func (d *unity) RenameVolume(ctx context.Context, vol Volume, newName string) error {
	lun, err := d.client.GetLUNByName(ctx, vol.Name)
	if err != nil {
		return fmt.Errorf("Failed to fetch volume %q: %w", vol.Name, err)
	}

	err = d.client.RenameLUN(ctx, lun.ID, newName)
	if err != nil {
		return fmt.Errorf("Failed to rename volume %q to %q: %w", vol.Name, newName, err)
	}

	return nil
}

// ManageVolume takes over a pre-existing LUN under the given name.
func (d *unity) ManageVolume(ctx context.Context, vol Volume, sourceName string) error {
	lun, err := d.client.GetLUNByName(ctx, sourceName)
	if err != nil {
		if clients.IsNotFound(err) {
			return fmt.Errorf("Volume %q does not exist on the array", sourceName)
		}

		return err
	}

	if lun.Pool.ID != d.pool.ID {
		return fmt.Errorf("Volume %q belongs to another pool", sourceName)
	}

	err = d.client.RenameLUN(ctx, lun.ID, vol.Name)
	if err != nil {
		return fmt.Errorf("Failed to take over volume %q: %w", sourceName, err)
	}

	return nil
}

// ManageVolumeGetSize returns the size in GiB of a candidate for ManageVolume.
func (d *unity) ManageVolumeGetSize(ctx context.Context, sourceName string) (int64, error) {
	lun, err := d.client.GetLUNByName(ctx, sourceName)
	if err != nil {
		if clients.IsNotFound(err) {
			return 0, fmt.Errorf("Volume %q does not exist on the array", sourceName)
		}

		return 0, err
	}

	return bytesToGiB(lun.SizeTotal), nil
}

// UnmanageVolume releases a LUN from management without deleting it.
func (d *unity) UnmanageVolume(ctx context.Context, vol Volume) error {
	lun, err := d.client.GetLUNByName(ctx, vol.Name)
	if err != nil {
		if clients.IsNotFound(err) {
			return fmt.Errorf("Volume %q does not exist on the array", vol.Name)
		}

		return err
	}

	return d.client.RenameLUN(ctx, lun.ID, vol.Name+"-unmanaged")
}

// CreateVolumeSnapshot takes a snapshot of a LUN. An existing snapshot of the
// same name is adopted.
func (d *unity) CreateVolumeSnapshot(ctx context.Context, snap Snapshot) error {
	lun, err := d.client.GetLUNByName(ctx, snap.Volume)
	if err != nil {
		return fmt.Errorf("Failed to fetch volume %q: %w", snap.Volume, err)
	}

	_, err = d.client.CreateSnapshot(ctx, lun.ID, snap.Name)
	if err != nil {
		if !clients.IsErrorKind(err, clients.ErrorKindDuplicateName) {
			return fmt.Errorf("Failed to snapshot volume %q: %w", snap.Volume, err)
		}

		d.logger.Info("Snapshot already exists, adopting it", logger.Ctx{"snapshot": snap.Name})
	}

	return nil
}

// DeleteVolumeSnapshot removes a snapshot. A snapshot already gone is not a failure.
func (d *unity) DeleteVolumeSnapshot(ctx context.Context, snap Snapshot) error {
	arraySnap, err := d.client.GetSnapshotByName(ctx, snap.Name)
	if err != nil {
		if clients.IsNotFound(err) {
			d.logger.Info("Snapshot already gone from array", logger.Ctx{"snapshot": snap.Name})
			return nil
		}

		return err
	}

	err = d.client.DeleteSnapshot(ctx, arraySnap.ID)
	if err != nil && !clients.IsNotFound(err) {
		return fmt.Errorf("Failed to delete snapshot %q: %w", snap.Name, err)
	}

	return nil
}

// The Unity backend exposes no consistency group support.

func (d *unity) CreateConsistencyGroup(ctx context.Context, name string, volumes []Volume) error {
	return ErrNotSupported
}

func (d *unity) DeleteConsistencyGroup(ctx context.Context, name string, volumes []Volume) error {
	return ErrNotSupported
}

func (d *unity) UpdateConsistencyGroup(ctx context.Context, name string, addVolumes []Volume, removeVolumes []Volume) error {
	return ErrNotSupported
}

func (d *unity) CreateConsistencyGroupSnapshot(ctx context.Context, cgName string, snapName string) error {
	return ErrNotSupported
}

func (d *unity) DeleteConsistencyGroupSnapshot(ctx context.Context, cgName string, snapName string, snapshots []Snapshot) error {
	return ErrNotSupported
}

func (d *unity) CreateConsistencyGroupFromSource(ctx context.Context, name string, volumes []Volume, sourceCG string, sourceVolumes []Volume, cgSnapshot string, snapshots []Snapshot) error {
	return ErrNotSupported
}
