package drivers

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sanlink/sanlink/shared"
	"github.com/sanlink/sanlink/shared/logger"
	"github.com/sanlink/sanlink/storage/drivers/clients"
)

// unityInitiatorIDs returns the initiator identifiers the connector brings,
// normalized for the array.
func (d *unity) unityInitiatorIDs(conn *Connector) []string {
	if d.config["unity.mode"] == ProtocolFC {
		ids := make([]string, 0, len(conn.WWPNs))
		for _, wwpn := range conn.WWPNs {
			ids = append(ids, colonizeWWPN(wwpn))
		}

		return ids
	}

	return []string{conn.IQN}
}

// ensureHost makes sure the connector's host record exists on the array with
// all of its initiators registered.
func (d *unity) ensureHost(ctx context.Context, conn *Connector) (*clients.UnityHost, error) {
	host, err := d.client.GetHostByName(ctx, conn.Host)
	if err != nil {
		if !clients.IsNotFound(err) {
			return nil, err
		}

		host, err = d.client.CreateHost(ctx, conn.Host)
		if err != nil {
			if !clients.IsErrorKind(err, clients.ErrorKindDuplicateName) {
				return nil, fmt.Errorf("Failed to create host %q: %w", conn.Host, err)
			}

			host, err = d.client.GetHostByName(ctx, conn.Host)
			if err != nil {
				return nil, err
			}
		}
	}

	// Register whichever initiators the host brings that the array does not
	// know about yet.
	registered, err := d.client.GetHostInitiators(ctx, host.ID)
	if err != nil {
		return nil, err
	}

	known := make([]string, 0, len(registered))
	for _, initiator := range registered {
		known = append(known, initiator.InitiatorID)
	}

	for _, id := range d.unityInitiatorIDs(conn) {
		if shared.ValueInSlice(id, known) {
			continue
		}

		err = d.client.CreateHostInitiator(ctx, host.ID, id)
		if err != nil && !clients.IsErrorKind(err, clients.ErrorKindDuplicateName) {
			return nil, fmt.Errorf("Failed to register initiator %q: %w", id, err)
		}
	}

	return host, nil
}

// attachHost grants the host access to the LUN. An existing attachment is
// fetched and reused rather than treated as a failure.
func (d *unity) attachHost(ctx context.Context, host *clients.UnityHost, lun *clients.UnityLUN) (*clients.UnityHostLUN, error) {
	attached := false
	for _, entry := range lun.HostAccess {
		if entry.Host.ID == host.ID {
			attached = true
			break
		}
	}

	if attached {
		d.logger.Info("Volume already attached, reusing the existing attachment", logger.Ctx{"volume": lun.Name, "host": host.ID})
	} else {
		access := append(lun.HostAccess, clients.UnityHostAccess{
			Host:       clients.UnityResourceRef{ID: host.ID},
			AccessMask: 1,
		})

		err := d.client.SetLUNHostAccess(ctx, lun.ID, access)
		if err != nil {
			if !clients.IsErrorKind(err, clients.ErrorKindAlreadyAttached) {
				return nil, fmt.Errorf("Failed to attach volume %q to host %q: %w", lun.Name, host.ID, err)
			}

			d.logger.Info("Volume already attached, reusing the existing attachment", logger.Ctx{"volume": lun.Name, "host": host.ID})
		}
	}

	hostLUN, err := d.client.GetHostLUN(ctx, host.ID, lun.ID)
	if err != nil {
		return nil, err
	}

	// The array is free to hand out HLU 0, which initiator platforms
	// reserve for controller devices. Move such attachments to the lowest
	// number the host does not use yet.
	if hostLUN.HLU == 0 {
		hostLUNs, err := d.client.GetHostLUNs(ctx, host.ID)
		if err != nil {
			return nil, err
		}

		used := make([]int, 0, len(hostLUNs))
		for _, entry := range hostLUNs {
			used = append(used, entry.HLU)
		}

		hlu := freeLUN(used)
		err = d.client.ModifyHostLUN(ctx, host.ID, hostLUN.ID, hlu)
		if err != nil {
			return nil, fmt.Errorf("Failed to move volume %q off HLU 0: %w", lun.Name, err)
		}

		hostLUN.HLU = hlu
	}

	return hostLUN, nil
}

// InitializeConnection attaches a volume to the connecting host.
func (d *unity) InitializeConnection(ctx context.Context, vol Volume, conn *Connector) (*ConnectionInfo, error) {
	host, err := d.ensureHost(ctx, conn)
	if err != nil {
		return nil, err
	}

	lun, err := d.client.GetLUNByName(ctx, vol.Name)
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch volume %q: %w", vol.Name, err)
	}

	hostLUN, err := d.attachHost(ctx, host, lun)
	if err != nil {
		return nil, err
	}

	if d.config["unity.mode"] == ProtocolFC {
		ports, err := d.client.GetFCPorts(ctx)
		if err != nil {
			return nil, err
		}

		// The array reports node+port WWNs, zoning wants the port half.
		targetWWNs := make([]string, 0, len(ports))
		for _, port := range ports {
			targetWWNs = append(targetWWNs, portWWN(port.WWN))
		}

		targetMap := make(map[string][]string, len(conn.WWPNs))
		for _, wwpn := range conn.WWPNs {
			targetMap[compactWWPN(wwpn)] = targetWWNs
		}

		return &ConnectionInfo{
			Protocol:   ProtocolFC,
			LUN:        hostLUN.HLU,
			TargetWWNs: targetWWNs,
			TargetMap:  targetMap,
		}, nil
	}

	portals, err := d.client.GetIscsiPortals(ctx)
	if err != nil {
		return nil, err
	}

	if len(portals) == 0 {
		return nil, fmt.Errorf("Array has no iSCSI portals configured")
	}

	portal := portals[rand.Intn(len(portals))]

	return &ConnectionInfo{
		Protocol:     ProtocolISCSI,
		LUN:          hostLUN.HLU,
		TargetIQN:    portal.IscsiNode.Name,
		TargetPortal: portal.IPAddress + ":3260",
	}, nil
}

// TerminateConnection detaches a volume from the connecting host.
func (d *unity) TerminateConnection(ctx context.Context, vol Volume, conn *Connector) (*ConnectionInfo, error) {
	mode := d.config["unity.mode"]
	info := &ConnectionInfo{Protocol: mode}

	host, err := d.client.GetHostByName(ctx, conn.Host)
	if err != nil {
		if clients.IsNotFound(err) {
			d.logger.Info("Host is not registered, nothing to do", logger.Ctx{"host": conn.Host})
			return info, nil
		}

		return nil, err
	}

	lun, err := d.client.GetLUNByName(ctx, vol.Name)
	if err != nil {
		if clients.IsNotFound(err) {
			d.logger.Info("Volume already gone from array", logger.Ctx{"volume": vol.Name})
			return info, nil
		}

		return nil, err
	}

	access := make([]clients.UnityHostAccess, 0, len(lun.HostAccess))
	attached := false
	for _, entry := range lun.HostAccess {
		if entry.Host.ID == host.ID {
			attached = true
			continue
		}

		access = append(access, entry)
	}

	if !attached {
		d.logger.Info("Volume is not attached, nothing to do", logger.Ctx{"volume": vol.Name, "host": host.ID})
		return info, nil
	}

	err = d.client.SetLUNHostAccess(ctx, lun.ID, access)
	if err != nil && !clients.IsNotFound(err) {
		return nil, fmt.Errorf("Failed to detach volume %q from host %q: %w", vol.Name, host.ID, err)
	}

	return info, nil
}
