package drivers

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/sanlink/sanlink/shared"
	"github.com/sanlink/sanlink/shared/logger"
	"github.com/sanlink/sanlink/storage/drivers/clients"
)

// initiatorNames returns the initiator identifiers the connector brings,
// normalized for the array.
func (d *xtremio) initiatorNames(conn *Connector) []string {
	if d.config["xtremio.mode"] == ProtocolFC {
		names := make([]string, 0, len(conn.WWPNs))
		for _, wwpn := range conn.WWPNs {
			names = append(names, colonizeWWPN(wwpn))
		}

		return names
	}

	return []string{conn.IQN}
}

// igName returns the initiator group name used for the connector. Over iSCSI
// the group is keyed by the initiator IQN, over Fibre Channel by the host
// name since a host brings several ports.
func (d *xtremio) igName(conn *Connector) string {
	if d.config["xtremio.mode"] == ProtocolFC {
		return conn.Host
	}

	return conn.IQN
}

// chapRequirements reads whether the cluster enforces CHAP for login and
// discovery.
func (d *xtremio) chapRequirements(ctx context.Context) (bool, bool, error) {
	cluster, err := d.client.Cluster(ctx)
	if err != nil {
		return false, false, err
	}

	auth := cluster.ChapAuthMode != "" && cluster.ChapAuthMode != "disabled"
	discovery := cluster.ChapDiscoveryMode != "" && cluster.ChapDiscoveryMode != "disabled"
	return auth, discovery, nil
}

// ensureIG fetches the initiator group, creating it when it is absent.
func (d *xtremio) ensureIG(ctx context.Context, igName string) (*clients.InitiatorGroup, error) {
	ig, err := d.client.GetInitiatorGroup(ctx, igName)
	if err == nil {
		return ig, nil
	}

	if !clients.IsNotFound(err) {
		return nil, err
	}

	err = d.client.CreateInitiatorGroup(ctx, igName)
	if err != nil && !clients.IsErrorKind(err, clients.ErrorKindDuplicateName) {
		return nil, fmt.Errorf("Failed to create initiator group %q: %w", igName, err)
	}

	return d.client.GetInitiatorGroup(ctx, igName)
}

// ensureInitiatorGroup makes sure the connector's initiator group and
// initiators exist on the array, registering CHAP credentials where the
// cluster enforces them. The returned credentials are nil when CHAP is off.
func (d *xtremio) ensureInitiatorGroup(ctx context.Context, conn *Connector) (*clients.InitiatorGroup, *ChapCredentials, error) {
	chapAuth := false
	chapDiscovery := false
	if d.config["xtremio.mode"] == ProtocolISCSI {
		var err error
		chapAuth, chapDiscovery, err = d.chapRequirements(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	igName := d.igName(conn)

	ig, err := d.ensureIG(ctx, igName)
	if err != nil {
		return nil, nil, err
	}

	var creds *ChapCredentials
	if chapAuth || chapDiscovery {
		creds = &ChapCredentials{}
	}

	for _, name := range d.initiatorNames(conn) {
		initiator, err := d.client.GetInitiator(ctx, name)
		if err != nil {
			if !clients.IsNotFound(err) {
				return nil, nil, err
			}

			spec := &clients.InitiatorSpec{
				Name:        name,
				IGName:      igName,
				PortAddress: name,
			}

			err = d.fillChapSpec(spec, creds, chapAuth, chapDiscovery)
			if err != nil {
				return nil, nil, err
			}

			err = d.client.CreateInitiator(ctx, spec)
			if err != nil && !clients.IsErrorKind(err, clients.ErrorKindDuplicateName) {
				return nil, nil, fmt.Errorf("Failed to create initiator %q: %w", name, err)
			}

			continue
		}

		// The initiator may predate CHAP being switched on, backfill the
		// missing credentials. Existing ones are read back off the array.
		spec := &clients.InitiatorSpec{}
		update := false

		if chapAuth {
			if initiator.ChapAuthUser == "" {
				err = d.fillChapSpec(spec, creds, true, false)
				if err != nil {
					return nil, nil, err
				}

				update = true
			} else {
				creds.LoginUser = initiator.ChapAuthUser
				creds.LoginPassword = initiator.ChapAuthPassword
			}
		}

		if chapDiscovery {
			if initiator.ChapDiscoveryUser == "" {
				err = d.fillChapSpec(spec, creds, false, true)
				if err != nil {
					return nil, nil, err
				}

				update = true
			} else {
				creds.DiscoveryUser = initiator.ChapDiscoveryUser
				creds.DiscoveryPassword = initiator.ChapDiscoveryPassword
			}
		}

		if update {
			d.logger.Info("Backfilling CHAP credentials on initiator", logger.Ctx{"initiator": name})
			err = d.client.UpdateInitiator(ctx, initiator.Index, spec)
			if err != nil {
				return nil, nil, fmt.Errorf("Failed to update initiator %q: %w", name, err)
			}
		}
	}

	return ig, creds, nil
}

// fillChapSpec generates credentials for the requested CHAP scopes and
// records them both on the spec and the credentials handed to the host.
func (d *xtremio) fillChapSpec(spec *clients.InitiatorSpec, creds *ChapCredentials, auth bool, discovery bool) error {
	if auth {
		password, err := shared.RandomCryptoString(xtremioChapSecretLength)
		if err != nil {
			return err
		}

		spec.LoginUser = xtremioChapUser
		spec.LoginPassword = password
		creds.LoginUser = spec.LoginUser
		creds.LoginPassword = password
	}

	if discovery {
		password, err := shared.RandomCryptoString(xtremioChapSecretLength)
		if err != nil {
			return err
		}

		spec.DiscoveryUser = xtremioChapUser
		spec.DiscoveryPassword = password
		creds.DiscoveryUser = spec.DiscoveryUser
		creds.DiscoveryPassword = password
	}

	return nil
}

// attachVolume maps the volume into the initiator group. An existing mapping
// is fetched and reused rather than treated as a failure.
func (d *xtremio) attachVolume(ctx context.Context, volName string, igName string, lun int) (*clients.LunMap, error) {
	lunMap, err := d.client.CreateLunMap(ctx, volName, igName, lun)
	if err != nil {
		if !clients.IsErrorKind(err, clients.ErrorKindAlreadyAttached) {
			return nil, fmt.Errorf("Failed to map volume %q to initiator group %q: %w", volName, igName, err)
		}

		d.logger.Info("Volume already mapped, reusing the existing mapping", logger.Ctx{"volume": volName, "ig": igName})
		return d.client.FindLunMap(ctx, igName, volName)
	}

	return lunMap, nil
}

// InitializeConnection attaches a volume to the connecting host.
func (d *xtremio) InitializeConnection(ctx context.Context, vol Volume, conn *Connector) (*ConnectionInfo, error) {
	if d.config["xtremio.mode"] == ProtocolFC {
		return d.initializeFC(ctx, vol, conn)
	}

	return d.initializeISCSI(ctx, vol, conn)
}

func (d *xtremio) initializeISCSI(ctx context.Context, vol Volume, conn *Connector) (*ConnectionInfo, error) {
	ig, creds, err := d.ensureInitiatorGroup(ctx, conn)
	if err != nil {
		return nil, err
	}

	lunMap, err := d.attachVolume(ctx, vol.Name, ig.Name, 0)
	if err != nil {
		return nil, err
	}

	portals, err := d.iscsiPortals(ctx)
	if err != nil {
		return nil, err
	}

	if len(portals) == 0 {
		return nil, fmt.Errorf("Array has no iSCSI portals configured")
	}

	// Spread hosts across the portals.
	portal := portals[rand.Intn(len(portals))]

	return &ConnectionInfo{
		Protocol:     ProtocolISCSI,
		LUN:          lunMap.LUN,
		TargetIQN:    portal.Name,
		TargetPortal: fmt.Sprintf("%s:%d", portal.Address(), portal.IPPort),
		Chap:         creds,
	}, nil
}

func (d *xtremio) initializeFC(ctx context.Context, vol Volume, conn *Connector) (*ConnectionInfo, error) {
	// A host's ports may already be spread over several initiator groups,
	// for example when ports were registered one at a time under different
	// names. The volume has to be visible through all of them.
	igNames := []string{}
	newPorts := []string{}
	for _, name := range d.initiatorNames(conn) {
		initiator, err := d.client.GetInitiator(ctx, name)
		if err != nil {
			if !clients.IsNotFound(err) {
				return nil, err
			}

			newPorts = append(newPorts, name)
			continue
		}

		igName := initiator.IGID.Name()
		if !shared.ValueInSlice(igName, igNames) {
			igNames = append(igNames, igName)
		}
	}

	if len(newPorts) > 0 {
		ig, err := d.ensureIG(ctx, d.igName(conn))
		if err != nil {
			return nil, err
		}

		for _, name := range newPorts {
			spec := &clients.InitiatorSpec{
				Name:        name,
				IGName:      ig.Name,
				PortAddress: name,
			}

			err = d.client.CreateInitiator(ctx, spec)
			if err != nil && !clients.IsErrorKind(err, clients.ErrorKindDuplicateName) {
				return nil, fmt.Errorf("Failed to create initiator %q: %w", name, err)
			}
		}

		if !shared.ValueInSlice(ig.Name, igNames) {
			igNames = append(igNames, ig.Name)
		}
	}

	if len(igNames) == 0 {
		return nil, fmt.Errorf("Connector %q brings no Fibre Channel ports", conn.Host)
	}

	// All of the host's ports must see the volume at the same LUN. With a
	// single group the array picks the number, across several groups the
	// lowest number unused by any of them is picked up front.
	lun := 0
	if len(igNames) > 1 {
		used := []int{}
		for _, igName := range igNames {
			existing, err := d.client.LunMapsForInitiatorGroup(ctx, igName)
			if err != nil {
				return nil, err
			}

			for _, lunMap := range existing {
				used = append(used, lunMap.LUN)
			}
		}

		lun = freeLUN(used)
	}

	var lunMap *clients.LunMap
	for _, igName := range igNames {
		m, err := d.attachVolume(ctx, vol.Name, igName, lun)
		if err != nil {
			return nil, err
		}

		lunMap = m
		lun = m.LUN
	}

	targetWWNs, err := d.fcTargetPorts(ctx)
	if err != nil {
		return nil, err
	}

	return &ConnectionInfo{
		Protocol:   ProtocolFC,
		LUN:        lunMap.LUN,
		TargetWWNs: targetWWNs,
		TargetMap:  d.fcTargetMap(conn, targetWWNs),
	}, nil
}

// igIndexesFromInitiators returns the indexes of every initiator group the
// connector's registered initiators belong to. Unregistered initiators are
// skipped.
func (d *xtremio) igIndexesFromInitiators(ctx context.Context, conn *Connector) ([]int, error) {
	indexes := []int{}
	for _, name := range d.initiatorNames(conn) {
		initiator, err := d.client.GetInitiator(ctx, name)
		if err != nil {
			if clients.IsNotFound(err) {
				continue
			}

			return nil, err
		}

		idx := initiator.IGID.Index()
		if !shared.ValueInSlice(idx, indexes) {
			indexes = append(indexes, idx)
		}
	}

	return indexes, nil
}

// TerminateConnection detaches a volume from the connecting host. The volume
// is unmapped from every initiator group the connector's initiators belong
// to, not just the group named after the connector.
func (d *xtremio) TerminateConnection(ctx context.Context, vol Volume, conn *Connector) (*ConnectionInfo, error) {
	mode := d.config["xtremio.mode"]
	igName := d.igName(conn)
	info := &ConnectionInfo{Protocol: mode}

	igIndexes, err := d.igIndexesFromInitiators(ctx, conn)
	if err != nil {
		return nil, err
	}

	if len(igIndexes) > 0 {
		volume, err := d.client.GetVolume(ctx, vol.Name)
		if err != nil {
			if clients.IsNotFound(err) {
				d.logger.Info("Volume already gone from array", logger.Ctx{"volume": vol.Name})
				return info, nil
			}

			return nil, err
		}

		tg, err := d.client.GetTargetGroup(ctx, "Default")
		if err != nil {
			return nil, fmt.Errorf("Failed to fetch default target group: %w", err)
		}

		for _, igIdx := range igIndexes {
			lmName := fmt.Sprintf("%d_%d_%d", volume.Index, igIdx, tg.Index)
			err = d.client.DeleteLunMap(ctx, lmName)
			if err != nil {
				if !clients.IsNotFound(err) {
					return nil, fmt.Errorf("Failed to unmap volume %q from initiator group %d: %w", vol.Name, igIdx, err)
				}

				d.logger.Warn("Mapping already gone from array", logger.Ctx{"volume": vol.Name, "ig": igIdx})
			}
		}
	} else {
		d.logger.Info("Connector has no registered initiators, nothing to unmap", logger.Ctx{"volume": vol.Name, "ig": igName})
	}

	// Once the host's last volume is gone, hand back the target ports so the
	// fabric zoning can be torn down.
	if mode == ProtocolFC {
		count, err := d.client.MappedVolumeCount(ctx, igName)
		if err != nil {
			return nil, err
		}

		if count == 0 {
			targetWWNs, err := d.fcTargetPorts(ctx)
			if err != nil {
				return nil, err
			}

			info.TargetWWNs = targetWWNs
			info.TargetMap = d.fcTargetMap(conn, targetWWNs)
		}
	}

	return info, nil
}

// iscsiPortals returns the array's iSCSI portals, resolved once per session.
func (d *xtremio) iscsiPortals(ctx context.Context) ([]clients.Portal, error) {
	d.targetsMu.Lock()
	defer d.targetsMu.Unlock()

	if d.iscsiTargets != nil {
		return d.iscsiTargets, nil
	}

	portals, err := d.client.ISCSIPortals(ctx)
	if err != nil {
		return nil, err
	}

	d.iscsiTargets = portals
	return portals, nil
}

// fcTargetPorts returns the port names of the array's online Fibre Channel
// targets, resolved once per session.
func (d *xtremio) fcTargetPorts(ctx context.Context) ([]string, error) {
	d.targetsMu.Lock()
	defer d.targetsMu.Unlock()

	if d.fcTargets == nil {
		refs, err := d.client.TargetRefs(ctx)
		if err != nil {
			return nil, err
		}

		targets := make([]clients.Target, 0, len(refs))
		for _, ref := range refs {
			if !strings.Contains(ref.Name, "-fc") {
				continue
			}

			target, err := d.client.GetTarget(ctx, ref.Name)
			if err != nil {
				if clients.IsNotFound(err) {
					continue
				}

				return nil, err
			}

			targets = append(targets, *target)
		}

		d.fcTargets = targets
	}

	wwns := make([]string, 0, len(d.fcTargets))
	for _, target := range d.fcTargets {
		if target.PortState != "up" {
			continue
		}

		wwns = append(wwns, compactWWPN(target.PortAddress))
	}

	return wwns, nil
}

// fcTargetMap lists the reachable target ports per initiator port, the shape
// fabric zoning tooling expects.
func (d *xtremio) fcTargetMap(conn *Connector, targetWWNs []string) map[string][]string {
	targetMap := make(map[string][]string, len(conn.WWPNs))
	for _, wwpn := range conn.WWPNs {
		targetMap[compactWWPN(wwpn)] = targetWWNs
	}

	return targetMap
}
