package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUnity is a minimal stateful stand-in for a Unity REST gateway.
type fakeUnity struct {
	t *testing.T

	mu      sync.Mutex
	luns    map[string]*fakeUnityLUN // keyed by ID
	hosts   map[string]string        // ID to name
	hlus    map[string]int           // attachment ID to HLU, handed out lowest first
	nextID  int
	nextHLU int
	session int
}

type fakeUnityLUN struct {
	id     string
	name   string
	size   int64
	access []string // host IDs
}

func newFakeUnity(t *testing.T) *fakeUnity {
	return &fakeUnity{
		t:      t,
		luns:   map[string]*fakeUnityLUN{},
		hosts:  map[string]string{},
		hlus:   map[string]int{},
		nextID: 1,
	}
}

func (f *fakeUnity) fail(w http.ResponseWriter, code int, message string) {
	w.WriteHeader(http.StatusUnprocessableEntity)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"errorCode": code,
			"messages":  []map[string]string{{"message": message}},
		},
	})
}

func (f *fakeUnity) content(w http.ResponseWriter, value map[string]any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"content": value})
}

func (f *fakeUnity) entries(w http.ResponseWriter, values []map[string]any) {
	wrapped := make([]map[string]any, 0, len(values))
	for _, value := range values {
		wrapped = append(wrapped, map[string]any{"content": value})
	}

	_ = json.NewEncoder(w).Encode(map[string]any{"entries": wrapped})
}

func (f *fakeUnity) lunRecord(lun *fakeUnityLUN) map[string]any {
	access := make([]map[string]any, 0, len(lun.access))
	for _, hostID := range lun.access {
		access = append(access, map[string]any{"host": map[string]string{"id": hostID}, "accessMask": 1})
	}

	return map[string]any{
		"id":         lun.id,
		"name":       lun.name,
		"sizeTotal":  lun.size,
		"pool":       map[string]string{"id": "pool_1"},
		"hostAccess": access,
	}
}

func (f *fakeUnity) attachmentID(lunID string, hostID string) string {
	return "HLU_" + hostID + "_" + lunID
}

func (f *fakeUnity) lunByName(name string) *fakeUnityLUN {
	for _, lun := range f.luns {
		if lun.name == name {
			return lun
		}
	}

	return nil
}

func (f *fakeUnity) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	// Mutating requests must carry the negotiated CSRF token.
	if r.Method != http.MethodGet && r.Header.Get("EMC-CSRF-TOKEN") != fmt.Sprintf("token-%d", f.session) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case path == "/api/types/loginSessionInfo/instances":
		f.session++
		w.Header().Set("EMC-CSRF-TOKEN", fmt.Sprintf("token-%d", f.session))
		w.WriteHeader(http.StatusOK)

	case path == "/api/types/basicSystemInfo/instances":
		f.entries(w, []map[string]any{{"id": "APM001", "name": "unity-1", "model": "Unity 450F", "softwareVersion": "5.0.3"}})

	case path == "/api/instances/pool/name:flash" || path == "/api/instances/pool/pool_1":
		f.content(w, map[string]any{"id": "pool_1", "name": "flash", "sizeTotal": 1 << 40, "sizeUsed": 1 << 38, "sizeSubscribed": 1 << 41})

	case path == "/api/types/storageResource/action/createLun":
		name, _ := body["name"].(string)
		if f.lunByName(name) != nil {
			f.fail(w, unityTestCodeNameInUse, "name already in use")
			return
		}

		params, _ := body["lunParameters"].(map[string]any)
		size, _ := params["size"].(float64)
		id := fmt.Sprintf("sv_%d", f.nextID)
		f.nextID++
		f.luns[id] = &fakeUnityLUN{id: id, name: name, size: int64(size)}
		w.WriteHeader(http.StatusOK)

	case strings.HasPrefix(path, "/api/instances/lun/name:"):
		lun := f.lunByName(strings.TrimPrefix(path, "/api/instances/lun/name:"))
		if lun == nil {
			f.fail(w, unityTestCodeNotFound, "resource not found")
			return
		}

		f.content(w, f.lunRecord(lun))

	case strings.HasPrefix(path, "/api/instances/lun/"):
		lun, exists := f.luns[strings.TrimPrefix(path, "/api/instances/lun/")]
		if !exists {
			f.fail(w, unityTestCodeNotFound, "resource not found")
			return
		}

		f.content(w, f.lunRecord(lun))

	case strings.HasPrefix(path, "/api/instances/storageResource/") && r.Method == http.MethodDelete:
		id := strings.TrimPrefix(path, "/api/instances/storageResource/")
		_, exists := f.luns[id]
		if !exists {
			f.fail(w, unityTestCodeNotFound, "resource not found")
			return
		}

		delete(f.luns, id)
		w.WriteHeader(http.StatusOK)

	case strings.HasSuffix(path, "/action/modifyLun"):
		id := strings.TrimPrefix(strings.TrimSuffix(path, "/action/modifyLun"), "/api/instances/storageResource/")
		lun, exists := f.luns[id]
		if !exists {
			f.fail(w, unityTestCodeNotFound, "resource not found")
			return
		}

		newName, ok := body["name"].(string)
		if ok {
			lun.name = newName
		}

		params, _ := body["lunParameters"].(map[string]any)
		access, ok := params["hostAccess"].([]any)
		if ok {
			lun.access = nil
			for _, entry := range access {
				hostRef, _ := entry.(map[string]any)["host"].(map[string]any)
				hostID, _ := hostRef["id"].(string)
				lun.access = append(lun.access, hostID)

				// New attachments get the lowest free number, zero included,
				// the way the array does it.
				attID := f.attachmentID(lun.id, hostID)
				_, assigned := f.hlus[attID]
				if !assigned {
					f.hlus[attID] = f.nextHLU
					f.nextHLU++
				}
			}
		}

		w.WriteHeader(http.StatusOK)

	case strings.HasPrefix(path, "/api/instances/host/name:"):
		name := strings.TrimPrefix(path, "/api/instances/host/name:")
		for id, hostName := range f.hosts {
			if hostName == name {
				f.content(w, map[string]any{"id": id, "name": name})
				return
			}
		}

		f.fail(w, unityTestCodeNotFound, "resource not found")

	case path == "/api/types/host/instances" && r.Method == http.MethodPost:
		name, _ := body["name"].(string)
		id := fmt.Sprintf("Host_%d", f.nextID)
		f.nextID++
		f.hosts[id] = name
		w.WriteHeader(http.StatusOK)

	case path == "/api/types/hostInitiator/instances":
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusOK)
			return
		}

		f.entries(w, nil)

	case path == "/api/types/hostLUN/instances":
		filter := r.URL.Query().Get("filter")
		var found []map[string]any
		for _, lun := range f.luns {
			if strings.Contains(filter, "lun.id") && !strings.Contains(filter, fmt.Sprintf("%q", lun.id)) {
				continue
			}

			for _, hostID := range lun.access {
				if strings.Contains(filter, fmt.Sprintf("%q", hostID)) {
					attID := f.attachmentID(lun.id, hostID)
					found = append(found, map[string]any{
						"id":   attID,
						"hlu":  f.hlus[attID],
						"host": map[string]string{"id": hostID},
						"lun":  map[string]string{"id": lun.id},
					})
				}
			}
		}

		f.entries(w, found)

	case strings.HasSuffix(path, "/action/modifyHostLUNs"):
		hostID := strings.TrimPrefix(strings.TrimSuffix(path, "/action/modifyHostLUNs"), "/api/instances/host/")
		_, exists := f.hosts[hostID]
		if !exists {
			f.fail(w, unityTestCodeNotFound, "resource not found")
			return
		}

		list, _ := body["hostLunModifyList"].([]any)
		for _, entry := range list {
			mod, _ := entry.(map[string]any)
			ref, _ := mod["hostLUN"].(map[string]any)
			attID, _ := ref["id"].(string)
			hlu, _ := mod["hlu"].(float64)
			f.hlus[attID] = int(hlu)
		}

		w.WriteHeader(http.StatusOK)

	case path == "/api/types/fcPort/instances":
		f.entries(w, []map[string]any{{
			"id":  "spa_fc0",
			"wwn": "50:06:01:60:C7:E0:01:23:50:06:01:6D:09:20:09:25",
		}})

	case path == "/api/types/iscsiPortal/instances":
		f.entries(w, []map[string]any{{
			"id":        "if_0",
			"ipAddress": "10.20.30.50",
			"iscsiNode": map[string]string{"name": "iqn.1992-04.com.emc:cx.apm001.a0"},
		}})

	default:
		f.t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		f.fail(w, unityTestCodeNotFound, "resource not found")
	}
}

// Error codes mirrored here to keep the fake self contained.
const (
	unityTestCodeNotFound  = 0x7d13005
	unityTestCodeNameInUse = 0x6701020
)

func newTestUnity(t *testing.T, mode string) (Driver, *fakeUnity) {
	fake := newFakeUnity(t)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	d, err := Load(context.Background(), "unity", "pool1", map[string]string{
		"unity.gateway":       server.URL,
		"unity.user.name":     "admin",
		"unity.user.password": "secret",
		"unity.pool":          "flash",
		"unity.mode":          mode,
	}, nil)
	require.NoError(t, err)

	return d, fake
}

func TestUnityLoadInfo(t *testing.T) {
	d, _ := newTestUnity(t, ProtocolISCSI)

	info := d.Info()
	assert.Equal(t, "unity", info.Name)
	assert.Equal(t, "5.0.3", info.Version)
	assert.Equal(t, ProtocolISCSI, info.Protocol)
	assert.False(t, info.ConsistencyGroups)
}

func TestUnityCreateDeleteVolumeIdempotent(t *testing.T) {
	d, fake := newTestUnity(t, ProtocolISCSI)

	vol := Volume{Name: "vol1", SizeGiB: 2}
	require.NoError(t, d.CreateVolume(context.Background(), vol))
	require.NoError(t, d.CreateVolume(context.Background(), vol))
	assert.Len(t, fake.luns, 1)
	assert.Equal(t, int64(2*unityGiB), fake.lunByName("vol1").size)

	require.NoError(t, d.DeleteVolume(context.Background(), vol))
	require.NoError(t, d.DeleteVolume(context.Background(), vol))
	assert.Empty(t, fake.luns)
}

func TestUnityConnection(t *testing.T) {
	d, fake := newTestUnity(t, ProtocolISCSI)

	vol := Volume{Name: "vol1", SizeGiB: 1}
	require.NoError(t, d.CreateVolume(context.Background(), vol))

	conn := &Connector{Host: "node1", IQN: "iqn.1993-08.org.debian:01:aabbcc"}

	info, err := d.InitializeConnection(context.Background(), vol, conn)
	require.NoError(t, err)
	assert.Equal(t, ProtocolISCSI, info.Protocol)
	assert.Equal(t, "iqn.1992-04.com.emc:cx.apm001.a0", info.TargetIQN)
	assert.Equal(t, "10.20.30.50:3260", info.TargetPortal)
	assert.Equal(t, 1, info.LUN)

	// A re-delivered attach reuses the existing attachment.
	again, err := d.InitializeConnection(context.Background(), vol, conn)
	require.NoError(t, err)
	assert.Equal(t, info.LUN, again.LUN)
	assert.Len(t, fake.lunByName("vol1").access, 1)

	_, err = d.TerminateConnection(context.Background(), vol, conn)
	require.NoError(t, err)
	assert.Empty(t, fake.lunByName("vol1").access)

	// Detaching an absent attachment is not a failure.
	_, err = d.TerminateConnection(context.Background(), vol, conn)
	require.NoError(t, err)
}

func TestUnityConnectionAvoidsHLUZero(t *testing.T) {
	d, fake := newTestUnity(t, ProtocolISCSI)

	vol := Volume{Name: "vol1", SizeGiB: 1}
	require.NoError(t, d.CreateVolume(context.Background(), vol))

	conn := &Connector{Host: "node1", IQN: "iqn.1993-08.org.debian:01:aabbcc"}

	// The array hands out HLU 0 first, which initiator platforms reserve
	// for controller devices. The attachment must be moved off it.
	info, err := d.InitializeConnection(context.Background(), vol, conn)
	require.NoError(t, err)
	assert.NotZero(t, info.LUN)

	for attID, hlu := range fake.hlus {
		assert.NotZero(t, hlu, attID)
	}
}

func TestUnityConnectionFC(t *testing.T) {
	d, _ := newTestUnity(t, ProtocolFC)

	vol := Volume{Name: "vol1", SizeGiB: 1}
	require.NoError(t, d.CreateVolume(context.Background(), vol))

	conn := &Connector{Host: "node1", WWPNs: []string{"10000090FA0D6754"}}

	info, err := d.InitializeConnection(context.Background(), vol, conn)
	require.NoError(t, err)
	assert.Equal(t, ProtocolFC, info.Protocol)
	assert.NotZero(t, info.LUN)

	// The array reports combined node+port WWNs, zoning only wants the
	// port half.
	assert.ElementsMatch(t, []string{"5006016d09200925"}, info.TargetWWNs)
	assert.Equal(t, info.TargetWWNs, info.TargetMap["10000090fa0d6754"])
}

func TestUnityConsistencyGroupsUnsupported(t *testing.T) {
	d, _ := newTestUnity(t, ProtocolISCSI)

	err := d.CreateConsistencyGroup(context.Background(), "cg1", nil)
	assert.ErrorIs(t, err, ErrNotSupported)
}
