package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeXMS is a minimal stateful stand-in for a 4.x generation XMS.
type fakeXMS struct {
	t *testing.T

	mu           sync.Mutex
	volumes      map[string]int
	snapshots    map[int]string // snapshot index to current name
	igs          map[string]int
	initiators   map[string]int
	initiatorIGs map[string]string // initiator port to owning group
	lunMaps      map[int]*fakeLunMap
	nextIndex    int
}

type fakeLunMap struct {
	index   int
	lun     int
	volName string
	igName  string
}

func newFakeXMS(t *testing.T) *fakeXMS {
	return &fakeXMS{
		t:            t,
		volumes:      map[string]int{},
		snapshots:    map[int]string{},
		igs:          map[string]int{},
		initiators:   map[string]int{},
		initiatorIGs: map[string]string{},
		lunMaps:      map[int]*fakeLunMap{},
		nextIndex:    1,
	}
}

func (f *fakeXMS) fail(w http.ResponseWriter, token string) {
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": token})
}

func (f *fakeXMS) content(w http.ResponseWriter, value map[string]any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"content": value})
}

func (f *fakeXMS) created(w http.ResponseWriter, typ string, index int) {
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"links": []map[string]string{
		{"href": fmt.Sprintf("https://xms/api/json/v2/types/%s/%d", typ, index)},
	}})
}

func (f *fakeXMS) clusterRecord() map[string]any {
	return map[string]any{
		"name":                     "cluster-1",
		"index":                    1,
		"sys-sw-version":           "4.0.2-80",
		"chap-authentication-mode": "disabled",
		"chap-discovery-mode":      "disabled",
		"ud-ssd-space":             "1048576",
		"ud-ssd-space-in-use":      "524288",
		"vol-size":                 "2097152",
	}
}

func (f *fakeXMS) volumeRecord(name string, index int) map[string]any {
	return map[string]any{
		"name":              name,
		"index":             index,
		"vol-size":          "1048576",
		"num-of-dest-snaps": 0,
		"vol-id":            []any{"guid", name, index},
	}
}

func (f *fakeXMS) lunMapRecord(lm *fakeLunMap) map[string]any {
	return map[string]any{
		"lun":      lm.lun,
		"ig-name":  lm.igName,
		"vol-name": lm.volName,
		"ig-index": f.igs[lm.igName],
		"tg-index": 1,
		"vol-id":   []any{"guid", lm.volName, f.volumes[lm.volName]},
	}
}

func (f *fakeXMS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/api/json"), "/v2")
	name := r.URL.Query().Get("name")

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case path == "/types/clusters/1":
		f.content(w, f.clusterRecord())

	case path == "/types/clusters" && name == "":
		_ = json.NewEncoder(w).Encode(map[string]any{"clusters": []map[string]string{
			{"href": "https://xms/api/json/v2/types/clusters/1", "name": "cluster-1"},
		}})

	case path == "/types/clusters":
		f.content(w, f.clusterRecord())

	case path == "/types/volumes" && r.Method == http.MethodPost:
		volName, _ := body["vol-name"].(string)
		_, exists := f.volumes[volName]
		if exists {
			f.fail(w, "vol_obj_name_not_unique")
			return
		}

		f.volumes[volName] = f.nextIndex
		f.created(w, "volumes", f.nextIndex)
		f.nextIndex++

	case path == "/types/volumes" && r.Method == http.MethodGet:
		index, exists := f.volumes[name]
		if !exists {
			f.fail(w, "vol_obj_not_found")
			return
		}

		f.content(w, f.volumeRecord(name, index))

	case path == "/types/volumes" && r.Method == http.MethodDelete:
		_, exists := f.volumes[name]
		if !exists {
			f.fail(w, "vol_obj_not_found")
			return
		}

		delete(f.volumes, name)
		w.WriteHeader(http.StatusOK)

	case path == "/types/volumes" && r.Method == http.MethodPut:
		index, exists := f.volumes[name]
		if !exists {
			f.fail(w, "vol_obj_not_found")
			return
		}

		newName, ok := body["vol-name"].(string)
		if ok {
			delete(f.volumes, name)
			f.volumes[newName] = index
		}

		w.WriteHeader(http.StatusOK)

	case strings.HasPrefix(path, "/types/volumes/"):
		index, _ := strconv.Atoi(strings.TrimPrefix(path, "/types/volumes/"))
		current := ""
		for volName, volIdx := range f.volumes {
			if volIdx == index {
				current = volName
				break
			}
		}

		if current == "" {
			f.fail(w, "vol_obj_not_found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			f.content(w, f.volumeRecord(current, index))
		case http.MethodPut:
			newName, ok := body["vol-name"].(string)
			if ok {
				delete(f.volumes, current)
				f.volumes[newName] = index
			}

			w.WriteHeader(http.StatusOK)
		}

	case path == "/types/snapshots" && r.Method == http.MethodPost:
		// Anonymous creation through a snapshot set, renamed afterwards.
		setName, _ := body["snapshot-set-name"].(string)
		volList, _ := body["volume-list"].([]any)
		if setName == "" || len(volList) == 0 {
			f.fail(w, "invalid_snapshot_request")
			return
		}

		src, _ := volList[0].(string)
		_, exists := f.volumes[src]
		if !exists {
			f.fail(w, "vol_obj_not_found")
			return
		}

		tempName := src + "." + setName
		f.volumes[tempName] = f.nextIndex
		f.snapshots[f.nextIndex] = tempName
		f.created(w, "snapshots", f.nextIndex)
		f.nextIndex++

	case strings.HasPrefix(path, "/types/snapshots/"):
		index, _ := strconv.Atoi(strings.TrimPrefix(path, "/types/snapshots/"))
		current, exists := f.snapshots[index]
		if !exists {
			f.fail(w, "obj_not_found")
			return
		}

		switch r.Method {
		case http.MethodPut:
			newName, _ := body["name"].(string)
			delete(f.volumes, current)
			f.volumes[newName] = index
			f.snapshots[index] = newName
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(f.volumes, current)
			delete(f.snapshots, index)
			w.WriteHeader(http.StatusOK)
		}

	case path == "/types/initiator-groups" && r.Method == http.MethodPost:
		igName, _ := body["ig-name"].(string)
		_, exists := f.igs[igName]
		if exists {
			f.fail(w, "obj_name_not_unique")
			return
		}

		f.igs[igName] = f.nextIndex
		f.created(w, "initiator-groups", f.nextIndex)
		f.nextIndex++

	case path == "/types/initiator-groups" && r.Method == http.MethodGet:
		index, exists := f.igs[name]
		if !exists {
			f.fail(w, "obj_not_found")
			return
		}

		f.content(w, map[string]any{"name": name, "index": index})

	case path == "/types/initiators" && r.Method == http.MethodPost:
		port, _ := body["port-address"].(string)
		igName, _ := body["ig-id"].(string)
		f.initiators[port] = f.nextIndex
		f.initiatorIGs[port] = igName
		f.created(w, "initiators", f.nextIndex)
		f.nextIndex++

	case path == "/types/initiators" && r.Method == http.MethodGet:
		var found []map[string]any
		for _, filter := range r.URL.Query()["filter"] {
			port := strings.TrimPrefix(filter, "port-address:eq:")
			index, exists := f.initiators[port]
			if exists {
				igName := f.initiatorIGs[port]
				found = append(found, map[string]any{
					"name":         port,
					"index":        index,
					"port-address": port,
					"ig-id":        []any{"guid", igName, f.igs[igName]},
				})
			}
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"initiators": found})

	case path == "/types/lun-maps" && r.Method == http.MethodPost:
		volName, _ := body["vol-id"].(string)
		igName, _ := body["ig-id"].(string)

		_, exists := f.volumes[volName]
		if !exists {
			f.fail(w, "vol_obj_not_found")
			return
		}

		for _, lm := range f.lunMaps {
			if lm.volName == volName && lm.igName == igName {
				f.fail(w, fmt.Sprintf("vol %s already_mapped to ig %s", volName, igName))
				return
			}
		}

		lun := 1
		requested, ok := body["lun"].(float64)
		if ok {
			lun = int(requested)
		} else {
			for _, lm := range f.lunMaps {
				if lm.igName == igName && lm.lun >= lun {
					lun = lm.lun + 1
				}
			}
		}

		lm := &fakeLunMap{index: f.nextIndex, lun: lun, volName: volName, igName: igName}
		f.lunMaps[lm.index] = lm
		f.created(w, "lun-maps", lm.index)
		f.nextIndex++

	case strings.HasPrefix(path, "/types/lun-maps/"):
		index, _ := strconv.Atoi(strings.TrimPrefix(path, "/types/lun-maps/"))
		lm, exists := f.lunMaps[index]
		if !exists {
			f.fail(w, "obj_not_found")
			return
		}

		f.content(w, f.lunMapRecord(lm))

	case path == "/types/lun-maps" && r.Method == http.MethodGet:
		var found []map[string]any
		for _, lm := range f.lunMaps {
			matches := true
			for _, filter := range r.URL.Query()["filter"] {
				prop, value, _ := strings.Cut(filter, ":eq:")
				if prop == "vol-name" && lm.volName != value {
					matches = false
				}

				if prop == "ig-name" && lm.igName != value {
					matches = false
				}
			}

			if matches {
				found = append(found, f.lunMapRecord(lm))
			}
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"lun-maps": found})

	case path == "/types/lun-maps" && r.Method == http.MethodDelete:
		// Mappings are deleted by the volIdx_igIdx_tgIdx composite name.
		parts := strings.Split(name, "_")
		if len(parts) != 3 {
			f.fail(w, "obj_not_found")
			return
		}

		volIdx, _ := strconv.Atoi(parts[0])
		igIdx, _ := strconv.Atoi(parts[1])
		for index, lm := range f.lunMaps {
			if f.volumes[lm.volName] == volIdx && f.igs[lm.igName] == igIdx {
				delete(f.lunMaps, index)
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		f.fail(w, "obj_not_found")

	case path == "/types/target-groups":
		if name != "Default" {
			f.fail(w, "obj_not_found")
			return
		}

		f.content(w, map[string]any{"name": name, "index": 1})

	case path == "/types/iscsi-portals":
		_ = json.NewEncoder(w).Encode(map[string]any{"iscsi-portals": []map[string]any{
			{"name": "iqn.2008-05.com.xtremio:001e67939c34", "ip-addr": "10.20.30.40/24", "ip-port": 3260},
		}})

	case path == "/types/targets" && name == "":
		_ = json.NewEncoder(w).Encode(map[string]any{"targets": []map[string]string{
			{"href": "https://xms/api/json/v2/types/targets/1", "name": "X1-SC1-fc1"},
			{"href": "https://xms/api/json/v2/types/targets/2", "name": "X1-SC1-fc2"},
			{"href": "https://xms/api/json/v2/types/targets/3", "name": "X1-SC1-iscsi1"},
		}})

	case path == "/types/targets":
		state := "up"
		port := "21:00:00:24:ff:57:ee:a8"
		if strings.HasSuffix(name, "fc2") {
			port = "21:00:00:24:ff:57:ee:a9"
		}

		f.content(w, map[string]any{"name": name, "port-address": port, "port-state": state})

	default:
		f.t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		f.fail(w, "obj_not_found")
	}
}

// newTestXtremIO loads the driver against a fake XMS.
func newTestXtremIO(t *testing.T, mode string) (Driver, *fakeXMS) {
	fake := newFakeXMS(t)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	d, err := Load(context.Background(), "xtremio", "pool1", map[string]string{
		"xtremio.gateway":             server.URL,
		"xtremio.user.name":           "admin",
		"xtremio.user.password":       "secret",
		"xtremio.mode":                mode,
		"xtremio.busy_retry_interval": "0",
	}, nil)
	require.NoError(t, err)

	return d, fake
}

func TestXtremIOLoadInfo(t *testing.T) {
	d, _ := newTestXtremIO(t, ProtocolISCSI)

	info := d.Info()
	assert.Equal(t, "xtremio", info.Name)
	assert.Equal(t, "4.0.2-80", info.Version)
	assert.Equal(t, ProtocolISCSI, info.Protocol)
	assert.True(t, info.Remote)
	assert.True(t, info.ConsistencyGroups)
}

func TestXtremIOCreateVolumeIdempotent(t *testing.T) {
	d, fake := newTestXtremIO(t, ProtocolISCSI)

	vol := Volume{Name: "vol1", SizeGiB: 1}
	require.NoError(t, d.CreateVolume(context.Background(), vol))

	// A re-delivered creation adopts the existing volume.
	require.NoError(t, d.CreateVolume(context.Background(), vol))
	assert.Len(t, fake.volumes, 1)
}

func TestXtremIODeleteVolumeIdempotent(t *testing.T) {
	d, fake := newTestXtremIO(t, ProtocolISCSI)

	vol := Volume{Name: "vol1", SizeGiB: 1}
	require.NoError(t, d.CreateVolume(context.Background(), vol))
	require.NoError(t, d.DeleteVolume(context.Background(), vol))
	assert.Empty(t, fake.volumes)

	// Deleting an absent volume is not a failure.
	require.NoError(t, d.DeleteVolume(context.Background(), vol))
}

func TestXtremIOSnapshotLifecycle(t *testing.T) {
	d, fake := newTestXtremIO(t, ProtocolISCSI)

	require.NoError(t, d.CreateVolume(context.Background(), Volume{Name: "vol1", SizeGiB: 1}))

	snap := Snapshot{Name: "snap1", Volume: "vol1"}
	require.NoError(t, d.CreateVolumeSnapshot(context.Background(), snap))
	assert.Contains(t, fake.volumes, "snap1")

	// Snapshots materialize as volumes and must not keep temporary names.
	for _, name := range fake.snapshots {
		assert.NotContains(t, name, ".")
	}

	require.NoError(t, d.CreateVolumeFromSnapshot(context.Background(), Volume{Name: "vol2", SizeGiB: 1}, snap))
	assert.Contains(t, fake.volumes, "vol2")

	require.NoError(t, d.DeleteVolumeSnapshot(context.Background(), snap))
	require.NoError(t, d.DeleteVolumeSnapshot(context.Background(), snap))
	assert.NotContains(t, fake.volumes, "snap1")
}

func TestXtremIOConnectionISCSI(t *testing.T) {
	d, fake := newTestXtremIO(t, ProtocolISCSI)

	vol := Volume{Name: "vol1", SizeGiB: 1}
	require.NoError(t, d.CreateVolume(context.Background(), vol))

	conn := &Connector{Host: "node1", IQN: "iqn.1993-08.org.debian:01:b9d6troller"}

	info, err := d.InitializeConnection(context.Background(), vol, conn)
	require.NoError(t, err)
	assert.Equal(t, ProtocolISCSI, info.Protocol)
	assert.Equal(t, "iqn.2008-05.com.xtremio:001e67939c34", info.TargetIQN)
	assert.Equal(t, "10.20.30.40:3260", info.TargetPortal)
	assert.NotZero(t, info.LUN)

	// A re-delivered attach reuses the existing mapping.
	again, err := d.InitializeConnection(context.Background(), vol, conn)
	require.NoError(t, err)
	assert.Equal(t, info.LUN, again.LUN)
	assert.Len(t, fake.lunMaps, 1)

	_, err = d.TerminateConnection(context.Background(), vol, conn)
	require.NoError(t, err)
	assert.Empty(t, fake.lunMaps)

	// Detaching an absent mapping is not a failure.
	_, err = d.TerminateConnection(context.Background(), vol, conn)
	require.NoError(t, err)
}

func TestXtremIOConcurrentConnections(t *testing.T) {
	d, _ := newTestXtremIO(t, ProtocolISCSI)

	conn := &Connector{Host: "node1", IQN: "iqn.1993-08.org.debian:01:aabbcc"}

	vols := make([]Volume, 4)
	for i := range vols {
		vols[i] = Volume{Name: fmt.Sprintf("vol%d", i), SizeGiB: 1}
		require.NoError(t, d.CreateVolume(context.Background(), vols[i]))
	}

	// Parallel attaches share the session scoped portal cache, the lookup
	// has to hold up under the race detector.
	var wg sync.WaitGroup
	for _, vol := range vols {
		wg.Add(1)
		go func(vol Volume) {
			defer wg.Done()
			_, err := d.InitializeConnection(context.Background(), vol, conn)
			assert.NoError(t, err)
		}(vol)
	}

	wg.Wait()
}

func TestXtremIOConnectionFC(t *testing.T) {
	d, fake := newTestXtremIO(t, ProtocolFC)

	require.NoError(t, d.CreateVolume(context.Background(), Volume{Name: "vol1", SizeGiB: 1}))
	require.NoError(t, d.CreateVolume(context.Background(), Volume{Name: "vol2", SizeGiB: 1}))

	conn := &Connector{Host: "node1", WWPNs: []string{"10000090FA0D6754", "10000090FA0D6755"}}

	info1, err := d.InitializeConnection(context.Background(), Volume{Name: "vol1"}, conn)
	require.NoError(t, err)

	info2, err := d.InitializeConnection(context.Background(), Volume{Name: "vol2"}, conn)
	require.NoError(t, err)

	// LUN numbers are allocated lowest first and never zero.
	assert.Equal(t, 1, info1.LUN)
	assert.Equal(t, 2, info2.LUN)

	assert.ElementsMatch(t, []string{"21000024ff57eea8", "21000024ff57eea9"}, info1.TargetWWNs)
	assert.Equal(t, info1.TargetWWNs, info1.TargetMap["10000090fa0d6754"])

	// Both ports landed in one initiator group keyed by the host.
	assert.Len(t, fake.igs, 1)
	assert.Len(t, fake.initiators, 2)

	// The last detach hands back the ports for unzoning.
	info, err := d.TerminateConnection(context.Background(), Volume{Name: "vol1"}, conn)
	require.NoError(t, err)
	assert.Empty(t, info.TargetWWNs)

	info, err = d.TerminateConnection(context.Background(), Volume{Name: "vol2"}, conn)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"21000024ff57eea8", "21000024ff57eea9"}, info.TargetWWNs)
}

func TestXtremIOConnectionFCSplitInitiatorGroups(t *testing.T) {
	d, fake := newTestXtremIO(t, ProtocolFC)

	require.NoError(t, d.CreateVolume(context.Background(), Volume{Name: "vol1", SizeGiB: 1}))

	// The host's ports were registered one at a time under per-port groups.
	fake.igs["node1-a"] = 100
	fake.igs["node1-b"] = 101
	fake.initiators["10:00:00:90:fa:0d:67:54"] = 110
	fake.initiators["10:00:00:90:fa:0d:67:55"] = 111
	fake.initiatorIGs["10:00:00:90:fa:0d:67:54"] = "node1-a"
	fake.initiatorIGs["10:00:00:90:fa:0d:67:55"] = "node1-b"

	conn := &Connector{Host: "node1", WWPNs: []string{"10000090FA0D6754", "10000090FA0D6755"}}

	info, err := d.InitializeConnection(context.Background(), Volume{Name: "vol1"}, conn)
	require.NoError(t, err)

	// The volume is visible through both groups at one shared LUN.
	require.Len(t, fake.lunMaps, 2)
	for _, lm := range fake.lunMaps {
		assert.Equal(t, info.LUN, lm.lun)
	}

	// No group named after the host appears alongside the existing ones.
	assert.NotContains(t, fake.igs, "node1")

	// Detaching unmaps from every group the ports belong to.
	_, err = d.TerminateConnection(context.Background(), Volume{Name: "vol1"}, conn)
	require.NoError(t, err)
	assert.Empty(t, fake.lunMaps)
}

func TestXtremIOGetResources(t *testing.T) {
	d, _ := newTestXtremIO(t, ProtocolISCSI)

	res, err := d.GetResources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1048576*1024), res.Space.Total)
	assert.Equal(t, uint64(524288*1024), res.Space.Used)
	assert.Equal(t, uint64(2097152*1024), res.Space.Provisioned)
}

func TestXtremIOManageVolume(t *testing.T) {
	d, fake := newTestXtremIO(t, ProtocolISCSI)

	fake.volumes["legacy-vol"] = 99

	size, err := d.ManageVolumeGetSize(context.Background(), "legacy-vol")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	require.NoError(t, d.ManageVolume(context.Background(), Volume{Name: "vol1"}, "legacy-vol"))
	assert.Contains(t, fake.volumes, "vol1")
	assert.NotContains(t, fake.volumes, "legacy-vol")

	require.NoError(t, d.UnmanageVolume(context.Background(), Volume{Name: "vol1"}))
	assert.Contains(t, fake.volumes, "vol1-unmanaged")

	_, err = d.ManageVolumeGetSize(context.Background(), "missing-vol")
	assert.ErrorContains(t, err, "does not exist")
}
