package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/sanlink/sanlink/shared/api"
	"github.com/sanlink/sanlink/shared/logger"
	"github.com/sanlink/sanlink/shared/revert"
)

// xmsDialect covers the points where the XMS REST contract differs between
// array software generations. A dialect is selected once by
// XtremIOClient.Connect and never changes afterwards.
type xmsDialect interface {
	version() string
	scopeParams(params url.Values)
	scopeBody(data map[string]any)
	supportsConsistencyGroups() bool

	cluster(ctx context.Context) (*Cluster, error)
	initiator(ctx context.Context, portAddress string) (*Initiator, error)
	findLunMap(ctx context.Context, igName string, volName string) (*LunMap, error)
	igLunMaps(ctx context.Context, igName string) ([]LunMap, error)
	iscsiPortals(ctx context.Context) ([]Portal, error)
	createSnapshot(ctx context.Context, srcName string, destName string, readOnly bool) error
	addVolumeToConsistencyGroup(ctx context.Context, volName string, cgName string) error
}

// xmsV3 talks the 3.x generation API. Listing endpoints only return object
// links, so lookups walk the listing and fetch objects one by one.
type xmsV3 struct {
	c *XtremIOClient

	portalsMu sync.Mutex
	portals   []Portal
}

func (v *xmsV3) version() string {
	return "v1"
}

func (v *xmsV3) scopeParams(params url.Values) {}

func (v *xmsV3) scopeBody(data map[string]any) {}

func (v *xmsV3) supportsConsistencyGroups() bool {
	return false
}

func (v *xmsV3) cluster(ctx context.Context) (*Cluster, error) {
	// A 3.x XMS manages exactly one cluster.
	return getObject[Cluster](ctx, v.c, &apiRequest{typ: "clusters", method: http.MethodGet, index: 1})
}

func (v *xmsV3) initiator(ctx context.Context, portAddress string) (*Initiator, error) {
	return getObject[Initiator](ctx, v.c, &apiRequest{typ: "initiators", method: http.MethodGet, name: portAddress})
}

func (v *xmsV3) findLunMap(ctx context.Context, igName string, volName string) (*LunMap, error) {
	refs, err := v.c.list(ctx, "lun-maps", nil, "")
	if err != nil {
		return nil, err
	}

	for _, ref := range refs {
		lunMap, err := getObject[LunMap](ctx, v.c, &apiRequest{typ: "lun-maps", method: http.MethodGet, index: ref.Index()})
		if err != nil {
			// Mappings listed a moment ago may be gone by the time they
			// are fetched.
			if IsNotFound(err) {
				continue
			}

			return nil, err
		}

		if lunMap.IGName == igName && lunMap.VolName == volName {
			return lunMap, nil
		}
	}

	return nil, api.StatusErrorf(http.StatusNotFound, "No mapping between initiator group %q and volume %q", igName, volName)
}

func (v *xmsV3) igLunMaps(ctx context.Context, igName string) ([]LunMap, error) {
	refs, err := v.c.list(ctx, "lun-maps", nil, "")
	if err != nil {
		return nil, err
	}

	var lunMaps []LunMap
	for _, ref := range refs {
		lunMap, err := getObject[LunMap](ctx, v.c, &apiRequest{typ: "lun-maps", method: http.MethodGet, index: ref.Index()})
		if err != nil {
			if IsNotFound(err) {
				continue
			}

			return nil, err
		}

		if lunMap.IGName == igName {
			lunMaps = append(lunMaps, *lunMap)
		}
	}

	return lunMaps, nil
}

func (v *xmsV3) iscsiPortals(ctx context.Context) ([]Portal, error) {
	v.portalsMu.Lock()
	defer v.portalsMu.Unlock()

	if v.portals != nil {
		return v.portals, nil
	}

	refs, err := v.c.list(ctx, "iscsi-portals", nil, "")
	if err != nil {
		return nil, err
	}

	portals := make([]Portal, 0, len(refs))
	for _, ref := range refs {
		portal, err := getObject[Portal](ctx, v.c, &apiRequest{typ: "iscsi-portals", method: http.MethodGet, name: ref.Name})
		if err != nil {
			return nil, err
		}

		portals = append(portals, *portal)
	}

	v.portals = portals
	return portals, nil
}

func (v *xmsV3) createSnapshot(ctx context.Context, srcName string, destName string, readOnly bool) error {
	// Read only snapshots are a 4.x feature, a 3.x array produces a regular
	// writable clone either way.
	data := map[string]any{
		"ancestor-vol-id": srcName,
		"snap-vol-name":   destName,
	}

	return v.c.req(ctx, &apiRequest{typ: "snapshots", method: http.MethodPost, data: data}, nil)
}

func (v *xmsV3) addVolumeToConsistencyGroup(ctx context.Context, volName string, cgName string) error {
	return nil
}

// xmsV4 talks the 4.x generation API, which adds server side filtering,
// multi cluster scoping and consistency groups.
type xmsV4 struct {
	c *XtremIOClient
}

func (v *xmsV4) version() string {
	return "v2"
}

func (v *xmsV4) scopeParams(params url.Values) {
	if v.c.config.ClusterName != "" {
		params.Set("cluster-name", v.c.config.ClusterName)
	}
}

func (v *xmsV4) scopeBody(data map[string]any) {
	if v.c.config.ClusterName != "" {
		data["cluster-id"] = v.c.config.ClusterName
	}
}

func (v *xmsV4) supportsConsistencyGroups() bool {
	return true
}

func (v *xmsV4) cluster(ctx context.Context) (*Cluster, error) {
	name := v.c.config.ClusterName
	if name == "" {
		refs, err := v.c.list(ctx, "clusters", nil, "")
		if err != nil {
			return nil, err
		}

		if len(refs) == 0 {
			return nil, api.StatusErrorf(http.StatusNotFound, "No clusters found on the XMS")
		}

		name = refs[0].Name
	}

	return getObject[Cluster](ctx, v.c, &apiRequest{typ: "clusters", method: http.MethodGet, name: name})
}

func (v *xmsV4) initiator(ctx context.Context, portAddress string) (*Initiator, error) {
	data := map[string]any{
		"full":   1,
		"filter": []string{"port-address:eq:" + portAddress},
	}

	initiators, err := listObjects[Initiator](ctx, v.c, "initiators", data, "")
	if err != nil {
		return nil, err
	}

	if len(initiators) != 1 {
		return nil, api.StatusErrorf(http.StatusNotFound, "Initiator with port address %q not found", portAddress)
	}

	return &initiators[0], nil
}

func (v *xmsV4) findLunMap(ctx context.Context, igName string, volName string) (*LunMap, error) {
	data := map[string]any{
		"full":   1,
		"filter": []string{"vol-name:eq:" + volName, "ig-name:eq:" + igName},
	}

	lunMaps, err := listObjects[LunMap](ctx, v.c, "lun-maps", data, "")
	if err != nil {
		return nil, err
	}

	if len(lunMaps) == 0 {
		return nil, api.StatusErrorf(http.StatusNotFound, "No mapping between initiator group %q and volume %q", igName, volName)
	}

	return &lunMaps[0], nil
}

func (v *xmsV4) igLunMaps(ctx context.Context, igName string) ([]LunMap, error) {
	data := map[string]any{
		"full":   1,
		"filter": []string{"ig-name:eq:" + igName},
	}

	return listObjects[LunMap](ctx, v.c, "lun-maps", data, "")
}

func (v *xmsV4) iscsiPortals(ctx context.Context) ([]Portal, error) {
	return listObjects[Portal](ctx, v.c, "iscsi-portals", map[string]any{"full": 1}, "")
}

func (v *xmsV4) createSnapshot(ctx context.Context, srcName string, destName string, readOnly bool) error {
	snapshotType := "regular"
	if readOnly {
		snapshotType = "readonly"
	}

	// Snapshots are created through a snapshot set whose member gets a
	// generated name, then the member is renamed to the requested one.
	// A failed rename must not leak the anonymous snapshot.
	setName := uuid.New().String()
	data := map[string]any{
		"snapshot-set-name": setName,
		"snap-suffix":       setName,
		"volume-list":       []string{srcName},
		"snapshot-type":     snapshotType,
	}

	var res postResult
	err := v.c.req(ctx, &apiRequest{typ: "snapshots", method: http.MethodPost, data: data}, &res)
	if err != nil {
		return err
	}

	typ, idx, err := res.location()
	if err != nil {
		return fmt.Errorf("Failed to locate created snapshot: %w", err)
	}

	reverter := revert.New()
	defer reverter.Fail()

	reverter.Add(func() {
		// The cleanup has to run even when the rename failed on a canceled
		// context.
		err := v.c.req(context.Background(), &apiRequest{typ: typ, method: http.MethodDelete, index: idx}, nil)
		if err != nil {
			v.c.logger.Error("Failed to clean up snapshot after failed rename", logger.Ctx{"type": typ, "index": idx, "err": err})
		}
	})

	err = v.c.req(ctx, &apiRequest{typ: typ, method: http.MethodPut, index: idx, data: map[string]any{"name": destName}}, nil)
	if err != nil {
		return fmt.Errorf("Failed to rename created snapshot to %q: %w", destName, err)
	}

	reverter.Success()
	return nil
}

func (v *xmsV4) addVolumeToConsistencyGroup(ctx context.Context, volName string, cgName string) error {
	data := map[string]any{
		"vol-id": volName,
		"cg-id":  cgName,
	}

	return v.c.req(ctx, &apiRequest{typ: "consistency-group-volumes", method: http.MethodPost, data: data, ver: "v2"}, nil)
}
