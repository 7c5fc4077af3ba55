package drivers

import (
	"context"
	"fmt"
	"strings"

	"github.com/sanlink/sanlink/shared/logger"
	"github.com/sanlink/sanlink/shared/revert"
	"github.com/sanlink/sanlink/storage/drivers/clients"
)

// xtremioMaxDestSnaps is the number of descendant snapshots the array allows
// per volume. Cloning a volume already at the limit fails outright, so it is
// checked up front.
const xtremioMaxDestSnaps = 100

// CreateVolume creates a new volume. An existing volume of the same name is
// adopted rather than treated as a failure.
func (d *xtremio) CreateVolume(ctx context.Context, vol Volume) error {
	err := d.client.CreateVolume(ctx, vol.Name, vol.SizeGiB)
	if err != nil {
		if !clients.IsErrorKind(err, clients.ErrorKindDuplicateName) {
			return fmt.Errorf("Failed to create volume %q: %w", vol.Name, err)
		}

		d.logger.Info("Volume already exists, adopting it", logger.Ctx{"volume": vol.Name})

		_, err = d.client.GetVolume(ctx, vol.Name)
		if err != nil {
			return fmt.Errorf("Failed to fetch existing volume %q: %w", vol.Name, err)
		}
	}

	return d.addToGroup(ctx, vol)
}

// addToGroup puts the volume into its consistency group, if it has one.
func (d *xtremio) addToGroup(ctx context.Context, vol Volume) error {
	if vol.ConsistencyGroup == "" {
		return nil
	}

	err := d.client.AddVolumeToConsistencyGroup(ctx, vol.Name, vol.ConsistencyGroup)
	if err != nil {
		return fmt.Errorf("Failed to add volume %q to group %q: %w", vol.Name, vol.ConsistencyGroup, err)
	}

	return nil
}

// CreateVolumeFromSnapshot creates a new volume holding the snapshot contents.
func (d *xtremio) CreateVolumeFromSnapshot(ctx context.Context, vol Volume, snap Snapshot) error {
	srcName := snap.Name

	// A snapshot taken as part of a group snapshot carries a generated name,
	// resolve it through the snapshot set membership.
	if snap.ConsistencyGroupSnapshot != "" {
		ancestors, err := d.client.SnapshotSetAncestors(ctx, snap.ConsistencyGroupSnapshot)
		if err != nil {
			return fmt.Errorf("Failed to resolve group snapshot %q: %w", snap.ConsistencyGroupSnapshot, err)
		}

		srcName = ""
		for memberName, ancestorName := range ancestors {
			if ancestorName == snap.Volume {
				srcName = memberName
				break
			}
		}

		if srcName == "" {
			return fmt.Errorf("Group snapshot %q has no member for volume %q", snap.ConsistencyGroupSnapshot, snap.Volume)
		}
	}

	err := d.client.CreateSnapshot(ctx, srcName, vol.Name, false)
	if err != nil {
		return fmt.Errorf("Failed to create volume %q from snapshot %q: %w", vol.Name, srcName, err)
	}

	return d.addToGroup(ctx, vol)
}

// CreateVolumeCopy creates a new volume holding a copy of another volume.
func (d *xtremio) CreateVolumeCopy(ctx context.Context, vol Volume, srcVol Volume) error {
	src, err := d.client.GetVolume(ctx, srcVol.Name)
	if err != nil {
		return fmt.Errorf("Failed to fetch source volume %q: %w", srcVol.Name, err)
	}

	if src.NumOfDestSnaps >= xtremioMaxDestSnaps {
		return fmt.Errorf("Source volume %q has reached the snapshot limit", srcVol.Name)
	}

	err = d.client.CreateSnapshot(ctx, srcVol.Name, vol.Name, false)
	if err != nil {
		return fmt.Errorf("Failed to copy volume %q to %q: %w", srcVol.Name, vol.Name, err)
	}

	reverter := revert.New()
	defer reverter.Fail()

	reverter.Add(func() {
		_ = d.client.DeleteVolume(context.Background(), vol.Name)
	})

	// Clones come out at the source size.
	if vol.SizeGiB > 0 && vol.SizeGiB > bytesToGiB(src.SizeBytes()) {
		err = d.client.ExtendVolume(ctx, vol.Name, vol.SizeGiB)
		if err != nil {
			return fmt.Errorf("Failed to extend copied volume %q: %w", vol.Name, err)
		}
	}

	err = d.addToGroup(ctx, vol)
	if err != nil {
		return err
	}

	reverter.Success()
	return nil
}

// DeleteVolume removes a volume. A volume already gone is not a failure.
func (d *xtremio) DeleteVolume(ctx context.Context, vol Volume) error {
	if vol.ConsistencyGroup != "" && d.client.SupportsConsistencyGroups() {
		err := d.client.RemoveVolumeFromConsistencyGroup(ctx, vol.Name, vol.ConsistencyGroup)
		if err != nil && !clients.IsNotFound(err) {
			return fmt.Errorf("Failed to remove volume %q from group %q: %w", vol.Name, vol.ConsistencyGroup, err)
		}
	}

	err := d.client.DeleteVolume(ctx, vol.Name)
	if err != nil {
		if clients.IsNotFound(err) {
			d.logger.Info("Volume already gone from array", logger.Ctx{"volume": vol.Name})
			return nil
		}

		return fmt.Errorf("Failed to delete volume %q: %w", vol.Name, err)
	}

	return nil
}

// ExtendVolume grows a volume to the new size.
func (d *xtremio) ExtendVolume(ctx context.Context, vol Volume, newSizeGiB int64) error {
	err := d.client.ExtendVolume(ctx, vol.Name, newSizeGiB)
	if err != nil {
		return fmt.Errorf("Failed to extend volume %q: %w", vol.Name, err)
	}

	return nil
}

// RenameVolume renames a volume.
func (d *xtremio) RenameVolume(ctx context.Context, vol Volume, newName string) error {
	err := d.client.RenameVolume(ctx, vol.Name, newName)
	if err != nil {
		return fmt.Errorf("Failed to rename volume %q to %q: %w", vol.Name, newName, err)
	}

	return nil
}

// ManageVolume takes over a pre-existing array volume under the given name.
func (d *xtremio) ManageVolume(ctx context.Context, vol Volume, sourceName string) error {
	src, err := d.client.GetVolume(ctx, sourceName)
	if err != nil {
		if clients.IsNotFound(err) {
			return fmt.Errorf("Volume %q does not exist on the array", sourceName)
		}

		return err
	}

	err = d.client.RenameVolumeByIndex(ctx, src.Index, vol.Name)
	if err != nil {
		return fmt.Errorf("Failed to take over volume %q: %w", sourceName, err)
	}

	return nil
}

// ManageVolumeGetSize returns the size in GiB of a candidate for ManageVolume.
func (d *xtremio) ManageVolumeGetSize(ctx context.Context, sourceName string) (int64, error) {
	src, err := d.client.GetVolume(ctx, sourceName)
	if err != nil {
		if clients.IsNotFound(err) {
			return 0, fmt.Errorf("Volume %q does not exist on the array", sourceName)
		}

		return 0, err
	}

	return bytesToGiB(src.SizeBytes()), nil
}

// UnmanageVolume releases a volume from management without deleting it.
// The volume is renamed so a later create cannot collide with it.
func (d *xtremio) UnmanageVolume(ctx context.Context, vol Volume) error {
	err := d.client.RenameVolume(ctx, vol.Name, vol.Name+"-unmanaged")
	if err != nil {
		if clients.IsNotFound(err) {
			return fmt.Errorf("Volume %q does not exist on the array", vol.Name)
		}

		return err
	}

	return nil
}

// CreateVolumeSnapshot takes a read only snapshot of a volume.
func (d *xtremio) CreateVolumeSnapshot(ctx context.Context, snap Snapshot) error {
	err := d.client.CreateSnapshot(ctx, snap.Volume, snap.Name, true)
	if err != nil {
		return fmt.Errorf("Failed to snapshot volume %q: %w", snap.Volume, err)
	}

	return nil
}

// DeleteVolumeSnapshot removes a snapshot. A snapshot already gone is not a failure.
func (d *xtremio) DeleteVolumeSnapshot(ctx context.Context, snap Snapshot) error {
	err := d.client.DeleteVolume(ctx, snap.Name)
	if err != nil {
		if clients.IsNotFound(err) {
			d.logger.Info("Snapshot already gone from array", logger.Ctx{"snapshot": snap.Name})
			return nil
		}

		return fmt.Errorf("Failed to delete snapshot %q: %w", snap.Name, err)
	}

	return nil
}

// groupSnapName derives the array side snapshot set name for a group snapshot.
func groupSnapName(cgName string, snapName string) string {
	return strings.ReplaceAll(cgName+snapName, "-", "")
}

// CreateConsistencyGroup creates a consistency group holding the given volumes.
func (d *xtremio) CreateConsistencyGroup(ctx context.Context, name string, volumes []Volume) error {
	if !d.client.SupportsConsistencyGroups() {
		return ErrNotSupported
	}

	volNames := make([]string, 0, len(volumes))
	for _, vol := range volumes {
		volNames = append(volNames, vol.Name)
	}

	err := d.client.CreateConsistencyGroup(ctx, name, volNames)
	if err != nil {
		if !clients.IsErrorKind(err, clients.ErrorKindDuplicateName) {
			return fmt.Errorf("Failed to create group %q: %w", name, err)
		}

		d.logger.Info("Group already exists, adopting it", logger.Ctx{"group": name})
	}

	return nil
}

// DeleteConsistencyGroup removes a consistency group and its member volumes.
func (d *xtremio) DeleteConsistencyGroup(ctx context.Context, name string, volumes []Volume) error {
	if !d.client.SupportsConsistencyGroups() {
		return ErrNotSupported
	}

	err := d.client.DeleteConsistencyGroup(ctx, name)
	if err != nil && !clients.IsNotFound(err) {
		return fmt.Errorf("Failed to delete group %q: %w", name, err)
	}

	for _, vol := range volumes {
		vol.ConsistencyGroup = ""
		err = d.DeleteVolume(ctx, vol)
		if err != nil {
			return err
		}
	}

	return nil
}

// UpdateConsistencyGroup adjusts the membership of a consistency group.
func (d *xtremio) UpdateConsistencyGroup(ctx context.Context, name string, addVolumes []Volume, removeVolumes []Volume) error {
	if !d.client.SupportsConsistencyGroups() {
		return ErrNotSupported
	}

	for _, vol := range addVolumes {
		err := d.client.AddVolumeToConsistencyGroup(ctx, vol.Name, name)
		if err != nil {
			return fmt.Errorf("Failed to add volume %q to group %q: %w", vol.Name, name, err)
		}
	}

	for _, vol := range removeVolumes {
		err := d.client.RemoveVolumeFromConsistencyGroup(ctx, vol.Name, name)
		if err != nil && !clients.IsNotFound(err) {
			return fmt.Errorf("Failed to remove volume %q from group %q: %w", vol.Name, name, err)
		}
	}

	return nil
}

// CreateConsistencyGroupSnapshot snapshots every member of a consistency group.
func (d *xtremio) CreateConsistencyGroupSnapshot(ctx context.Context, cgName string, snapName string) error {
	if !d.client.SupportsConsistencyGroups() {
		return ErrNotSupported
	}

	err := d.client.CreateConsistencyGroupSnapshot(ctx, cgName, groupSnapName(cgName, snapName))
	if err != nil {
		return fmt.Errorf("Failed to snapshot group %q: %w", cgName, err)
	}

	return nil
}

// DeleteConsistencyGroupSnapshot removes a group snapshot and its member snapshots.
func (d *xtremio) DeleteConsistencyGroupSnapshot(ctx context.Context, cgName string, snapName string, snapshots []Snapshot) error {
	if !d.client.SupportsConsistencyGroups() {
		return ErrNotSupported
	}

	setName := groupSnapName(cgName, snapName)

	ancestors, err := d.client.SnapshotSetAncestors(ctx, setName)
	if err != nil {
		if clients.IsNotFound(err) {
			d.logger.Info("Group snapshot already gone from array", logger.Ctx{"group": cgName, "snapshot": snapName})
			return nil
		}

		return err
	}

	err = d.client.DeleteSnapshotSet(ctx, setName)
	if err != nil && !clients.IsNotFound(err) {
		return fmt.Errorf("Failed to delete snapshot set %q: %w", setName, err)
	}

	for memberName := range ancestors {
		err = d.client.DeleteVolume(ctx, memberName)
		if err != nil && !clients.IsNotFound(err) {
			return fmt.Errorf("Failed to delete group snapshot member %q: %w", memberName, err)
		}
	}

	return nil
}

// CreateConsistencyGroupFromSource creates a consistency group populated from
// either a group snapshot or another group.
func (d *xtremio) CreateConsistencyGroupFromSource(ctx context.Context, name string, volumes []Volume, sourceCG string, sourceVolumes []Volume, cgSnapshot string, snapshots []Snapshot) error {
	if !d.client.SupportsConsistencyGroups() {
		return ErrNotSupported
	}

	reverter := revert.New()
	defer reverter.Fail()

	err := d.CreateConsistencyGroup(ctx, name, nil)
	if err != nil {
		return err
	}

	reverter.Add(func() {
		_ = d.client.DeleteConsistencyGroup(context.Background(), name)
	})

	switch {
	case cgSnapshot != "":
		// Materialize each member snapshot into a new volume.
		for i, vol := range volumes {
			if i >= len(snapshots) {
				break
			}

			vol.ConsistencyGroup = name
			err = d.CreateVolumeFromSnapshot(ctx, vol, snapshots[i])
			if err != nil {
				return err
			}

			reverter.Add(func() {
				_ = d.client.DeleteVolume(context.Background(), vol.Name)
			})
		}

	case sourceCG != "":
		// Snapshot the source group in one shot, then rename the members
		// after the new volumes.
		setName := strings.ReplaceAll(name, "-", "")
		err = d.client.CreateConsistencyGroupSnapshot(ctx, sourceCG, setName)
		if err != nil {
			return fmt.Errorf("Failed to snapshot source group %q: %w", sourceCG, err)
		}

		reverter.Add(func() {
			_ = d.client.DeleteSnapshotSet(context.Background(), setName)
		})

		ancestors, err := d.client.SnapshotSetAncestors(ctx, setName)
		if err != nil {
			return err
		}

		newNames := make(map[string]string, len(sourceVolumes))
		for i, srcVol := range sourceVolumes {
			if i >= len(volumes) {
				break
			}

			newNames[srcVol.Name] = volumes[i].Name
		}

		for memberName, ancestorName := range ancestors {
			newName, ok := newNames[ancestorName]
			if !ok {
				continue
			}

			err = d.client.RenameVolume(ctx, memberName, newName)
			if err != nil {
				return fmt.Errorf("Failed to rename group member %q: %w", memberName, err)
			}

			err = d.client.AddVolumeToConsistencyGroup(ctx, newName, name)
			if err != nil {
				return fmt.Errorf("Failed to add volume %q to group %q: %w", newName, name, err)
			}
		}

		err = d.client.DeleteSnapshotSet(ctx, setName)
		if err != nil && !clients.IsNotFound(err) {
			return fmt.Errorf("Failed to delete snapshot set %q: %w", setName, err)
		}

	default:
		return fmt.Errorf("Either a source group or a group snapshot is required")
	}

	reverter.Success()
	return nil
}
