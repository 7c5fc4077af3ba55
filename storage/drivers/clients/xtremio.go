package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sanlink/sanlink/shared/api"
	"github.com/sanlink/sanlink/shared/logger"
)

// Error tokens the XMS reports in the message field of a failed request.
const (
	xmsObjNotFoundErr      = "obj_not_found"
	xmsVolNotUniqueErr     = "vol_obj_name_not_unique"
	xmsVolObjNotFoundErr   = "vol_obj_not_found"
	xmsAlreadyMappedErr    = "already_mapped"
	xmsSystemBusyErr       = "system_is_busy"
	xmsTooManyObjsErr      = "too_many_objs"
	xmsTooManySnapshotsErr = "too_many_snapshots_per_vol"
)

// Default retry policy applied when an array reports itself busy.
const (
	DefaultBusyRetries  = 5
	DefaultBusyInterval = 5 * time.Second
)

// xmsMinVersion is the oldest XMS software generation the client talks to.
var xmsMinVersion = []int{3, 0, 0}

type xmsTokenMatch int

const (
	matchExact xmsTokenMatch = iota
	matchSuffix
	matchContains
)

// xmsErrorKinds maps XMS error tokens to error kinds. Matching styles follow
// how each token actually shows up on the wire: some messages carry an object
// type prefix or surrounding text.
var xmsErrorKinds = []struct {
	token string
	match xmsTokenMatch
	kind  ErrorKind
}{
	{xmsVolNotUniqueErr, matchExact, ErrorKindDuplicateName},
	{xmsVolObjNotFoundErr, matchExact, ErrorKindNotFound},
	{xmsObjNotFoundErr, matchSuffix, ErrorKindNotFound},
	{xmsAlreadyMappedErr, matchContains, ErrorKindAlreadyAttached},
	{xmsSystemBusyErr, matchExact, ErrorKindArrayBusy},
	{xmsTooManyObjsErr, matchExact, ErrorKindLimitExceeded},
	{xmsTooManySnapshotsErr, matchExact, ErrorKindLimitExceeded},
}

func classifyXMSToken(message string) (ErrorKind, bool) {
	for _, entry := range xmsErrorKinds {
		switch entry.match {
		case matchExact:
			if message == entry.token {
				return entry.kind, true
			}

		case matchSuffix:
			if strings.HasSuffix(message, entry.token) {
				return entry.kind, true
			}

		case matchContains:
			if strings.Contains(message, entry.token) {
				return entry.kind, true
			}
		}
	}

	return ErrorKindUnknown, false
}

// ObjectID is the XMS object reference triple [guid, name, index].
type ObjectID []any

// Name returns the object name part of the reference.
func (o ObjectID) Name() string {
	if len(o) < 2 {
		return ""
	}

	name, _ := o[1].(string)
	return name
}

// Index returns the object index part of the reference.
func (o ObjectID) Index() int {
	if len(o) < 3 {
		return 0
	}

	// JSON numbers decode as float64.
	idx, _ := o[2].(float64)
	return int(idx)
}

// Ref is a link style object reference returned by listing endpoints.
type Ref struct {
	Href string `json:"href"`
	Name string `json:"name"`
}

// Index parses the object index off the reference link.
func (r *Ref) Index() int {
	parts := strings.Split(strings.Trim(r.Href, "/"), "/")
	idx, _ := strconv.Atoi(parts[len(parts)-1])
	return idx
}

// Cluster holds the subset of cluster properties the drivers consume.
// Space counters are reported by the XMS as strings holding KiB values.
type Cluster struct {
	Name              string `json:"name"`
	Index             int    `json:"index"`
	SysSWVersion      string `json:"sys-sw-version"`
	SizeAndCapacity   string `json:"size-and-capacity"`
	UDSSDSpace        string `json:"ud-ssd-space"`
	UDSSDSpaceInUse   string `json:"ud-ssd-space-in-use"`
	VolSize           string `json:"vol-size"`
	ChapAuthMode      string `json:"chap-authentication-mode"`
	ChapDiscoveryMode string `json:"chap-discovery-mode"`
}

// Volume holds the subset of volume properties the drivers consume.
type Volume struct {
	Name           string     `json:"name"`
	Index          int        `json:"index"`
	VolSize        string     `json:"vol-size"`
	NumOfDestSnaps int        `json:"num-of-dest-snaps"`
	AncestorVolID  ObjectID   `json:"ancestor-vol-id"`
	DestSnapList   []ObjectID `json:"dest-snap-list"`
	LunMappingList [][]any    `json:"lun-mapping-list"`
	IndexID        ObjectID   `json:"vol-id"`
}

// SizeBytes parses the volume size field, which the XMS reports as a string
// holding a KiB value.
func (v *Volume) SizeBytes() int64 {
	size, _ := strconv.ParseInt(v.VolSize, 10, 64)
	return size * 1024
}

// LunMap holds the subset of lun mapping properties the drivers consume.
type LunMap struct {
	Name    string   `json:"mapping-id,omitempty"`
	LUN     int      `json:"lun"`
	IGName  string   `json:"ig-name"`
	VolName string   `json:"vol-name"`
	IGIndex int      `json:"ig-index"`
	TGIndex int      `json:"tg-index"`
	VolID   ObjectID `json:"vol-id"`
	MapID   ObjectID `json:"mapping-id"`
}

// Portal is a single iSCSI portal of the array.
type Portal struct {
	Name    string   `json:"name"`
	IPAddr  string   `json:"ip-addr"`
	IPPort  int      `json:"ip-port"`
	PortAdd string   `json:"port-address"`
	TarID   ObjectID `json:"tar-id"`
}

// Address returns the portal address without the netmask suffix.
func (p *Portal) Address() string {
	addr, _, _ := strings.Cut(p.IPAddr, "/")
	return addr
}

// Initiator holds the subset of initiator properties the drivers consume.
type Initiator struct {
	Name                  string   `json:"name"`
	Index                 int      `json:"index"`
	PortAddress           string   `json:"port-address"`
	ChapAuthUser          string   `json:"chap-authentication-initiator-user-name"`
	ChapAuthPassword      string   `json:"chap-authentication-initiator-password"`
	ChapDiscoveryUser     string   `json:"chap-discovery-initiator-user-name"`
	ChapDiscoveryPassword string   `json:"chap-discovery-initiator-password"`
	IGID                  ObjectID `json:"ig-id"`
}

// InitiatorGroup holds the subset of initiator group properties the drivers consume.
type InitiatorGroup struct {
	Name      string `json:"name"`
	Index     int    `json:"index"`
	NumOfVols int    `json:"num-of-vols"`
}

// Target is a single array side SCSI target port.
type Target struct {
	Name        string `json:"name"`
	Index       int    `json:"index"`
	PortAddress string `json:"port-address"`
	PortType    string `json:"port-type"`
	PortState   string `json:"port-state"`
}

// TargetGroup holds the subset of target group properties the drivers consume.
type TargetGroup struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
}

// SnapshotSet holds the subset of snapshot set properties the drivers consume.
type SnapshotSet struct {
	Name    string     `json:"name"`
	Index   int        `json:"index"`
	VolList []ObjectID `json:"vol-list"`
}

// InitiatorSpec describes an initiator to register on the array.
// The CHAP credentials are optional.
type InitiatorSpec struct {
	Name              string
	IGName            string
	PortAddress       string
	LoginUser         string
	LoginPassword     string
	DiscoveryUser     string
	DiscoveryPassword string
}

// xmsObject is the single object response envelope of the XMS.
type xmsObject[T any] struct {
	Content T `json:"content"`
}

// postResult is the response envelope of creation requests.
type postResult struct {
	Links []Ref `json:"links"`
}

// location returns the resource type and index the result's first link points at.
func (r *postResult) location() (string, int, error) {
	if len(r.Links) == 0 {
		return "", 0, fmt.Errorf("Response contains no object link")
	}

	parts := strings.Split(strings.Trim(r.Links[0].Href, "/"), "/")
	if len(parts) < 2 {
		return "", 0, fmt.Errorf("Unexpected object link %q", r.Links[0].Href)
	}

	idx, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return "", 0, fmt.Errorf("Unexpected object link %q: %w", r.Links[0].Href, err)
	}

	return parts[len(parts)-2], idx, nil
}

// XtremIOConfig contains the connection settings of one XMS endpoint.
// The struct is treated as immutable once handed to NewXtremIOClient.
type XtremIOConfig struct {
	Gateway   string
	Username  string
	Password  string
	VerifyTLS bool
	CABundle  string // Optional CA bundle path used when VerifyTLS is set.

	// ClusterName scopes every request to one cluster on a multi cluster XMS.
	ClusterName string

	// Retry policy applied when the array reports itself busy. A zero
	// interval retries immediately.
	BusyRetries  uint
	BusyInterval time.Duration
}

// XtremIOClient holds an HTTP client for the XMS API of a Dell EMC XtremIO
// array, together with the dialect matching the array's software generation.
type XtremIOClient struct {
	logger     logger.Logger
	config     XtremIOConfig
	httpClient *http.Client
	api        xmsDialect
	version    string
}

// NewXtremIOClient creates a new instance of the HTTP client pointed to the XMS gateway.
// Call Connect before using it to probe the array's software generation.
func NewXtremIOClient(l logger.Logger, config XtremIOConfig) (*XtremIOClient, error) {
	// Zero attempts would mean the call never runs. The interval is taken
	// as-is so callers can ask for immediate retries.
	if config.BusyRetries == 0 {
		config.BusyRetries = DefaultBusyRetries
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: !config.VerifyTLS,
	}

	if config.VerifyTLS && config.CABundle != "" {
		pem, err := os.ReadFile(config.CABundle)
		if err != nil {
			return nil, fmt.Errorf("Failed to read CA bundle %q: %w", config.CABundle, err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %q contains no usable certificates", config.CABundle)
		}

		tlsConfig.RootCAs = pool
	}

	client := &XtremIOClient{
		logger: l,
		config: config,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
	}

	client.api = &xmsV3{c: client}
	return client, nil
}

// apiRequest describes one XMS API call before dialect scoping is applied.
// An object may be addressed either by name or by index, never by both.
type apiRequest struct {
	typ    string // XMS resource type, e.g. "volumes".
	method string
	name   string
	index  int
	data   map[string]any // Request body, or extra query parameters for GET and DELETE.
	ver    string         // Optional API version override.
}

// key returns whichever object address the request carries, for logging.
func (r *apiRequest) key() string {
	if r.name != "" {
		return r.name
	}

	if r.index > 0 {
		return strconv.Itoa(r.index)
	}

	return ""
}

// request issues a single HTTP request against the XMS without retrying.
func (c *XtremIOClient) request(ctx context.Context, req *apiRequest, response any) error {
	if req.name != "" && req.index > 0 {
		return fmt.Errorf("Cannot address %q object by both name and index", req.typ)
	}

	ver := req.ver
	if ver == "" {
		ver = c.api.version()
	}

	scheme, host, found := strings.Cut(strings.TrimSuffix(c.config.Gateway, "/"), "://")
	if !found {
		return fmt.Errorf("Invalid XMS gateway URL: %q", c.config.Gateway)
	}

	u := api.NewURL().Scheme(scheme).Host(host)

	pathParts := []string{"api", "json"}
	if ver == "v2" {
		pathParts = append(pathParts, "v2")
	}

	pathParts = append(pathParts, "types", req.typ)
	if req.index > 0 {
		pathParts = append(pathParts, strconv.Itoa(req.index))
	}

	u.Path(pathParts...)

	params := url.Values{}
	if req.name != "" {
		params.Set("name", req.name)
	}

	var body io.Reader
	if req.method == http.MethodGet || req.method == http.MethodDelete {
		for key, value := range req.data {
			list, ok := value.([]string)
			if ok {
				for _, entry := range list {
					params.Add(key, entry)
				}
			} else {
				params.Add(key, fmt.Sprint(value))
			}
		}

		c.api.scopeParams(params)
	} else {
		data := make(map[string]any, len(req.data)+1)
		for key, value := range req.data {
			data[key] = value
		}

		c.api.scopeBody(data)

		buf := &bytes.Buffer{}
		err := json.NewEncoder(buf).Encode(data)
		if err != nil {
			return fmt.Errorf("Failed to encode request body: %w", err)
		}

		body = buf
	}

	u.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("Failed to create request: %w", err)
	}

	httpReq.SetBasicAuth(c.config.Username, c.config.Password)
	httpReq.Header.Add("Accept", "application/json")
	if body != nil {
		httpReq.Header.Add("Content-Type", "application/json")
	}

	c.logger.Debug("Sending XMS request", logger.Ctx{"method": req.method, "type": req.typ, "key": req.key()})

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &APIError{Kind: ErrorKindTransport, Message: err.Error(), cause: err}
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if response == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}

		err = json.NewDecoder(resp.Body).Decode(response)
		if err != nil {
			return fmt.Errorf("Failed to parse %q response: %w", req.typ, err)
		}

		return nil
	}

	return c.classify(resp, req)
}

// classify converts a failed XMS response into an APIError carrying one of
// the closed set of error kinds. Unrecognized responses map to
// ErrorKindUnknown with the raw body preserved.
func (c *XtremIOClient) classify(resp *http.Response, req *apiRequest) error {
	body, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{
		Kind:    ErrorKindUnknown,
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(string(body)),
	}

	// The XMS reports every recognizable failure as a generic bad request
	// carrying a vendor token in the message field.
	if resp.StatusCode == http.StatusBadRequest {
		var errResp struct {
			Message string `json:"message"`
		}

		err := json.Unmarshal(body, &errResp)
		if err == nil && errResp.Message != "" {
			apiErr.Token = errResp.Message

			kind, ok := classifyXMSToken(errResp.Message)
			if ok {
				apiErr.Kind = kind
			}
		}
	}

	switch apiErr.Kind {
	case ErrorKindNotFound:
		c.logger.Warn("Object not found on array", logger.Ctx{"type": req.typ, "key": req.key(), "token": apiErr.Token})
	case ErrorKindUnknown:
		c.logger.Error("Bad response from XMS", logger.Ctx{"type": req.typ, "key": req.key(), "status": resp.StatusCode, "body": apiErr.Message})
	default:
		c.logger.Debug("XMS reported error", logger.Ctx{"type": req.typ, "key": req.key(), "kind": apiErr.Kind, "token": apiErr.Token})
	}

	return apiErr
}

// req issues the request, retrying while the array reports itself busy.
// Requests are re-issued verbatim on retry, so callers must not derive fresh
// identity bearing values between attempts.
func (c *XtremIOClient) req(ctx context.Context, req *apiRequest, response any) error {
	return retryBusy(func() error {
		return c.request(ctx, req, response)
	}, c.config.BusyRetries, c.config.BusyInterval)
}

// listObjects returns all objects of the given type from a listing endpoint.
// The XMS keys the listing by the resource type name.
func listObjects[T any](ctx context.Context, c *XtremIOClient, typ string, data map[string]any, ver string) ([]T, error) {
	var raw map[string]json.RawMessage
	err := c.req(ctx, &apiRequest{typ: typ, method: http.MethodGet, data: data, ver: ver}, &raw)
	if err != nil {
		return nil, err
	}

	rawList, ok := raw[typ]
	if !ok {
		return nil, nil
	}

	var objects []T
	err = json.Unmarshal(rawList, &objects)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse %q listing: %w", typ, err)
	}

	return objects, nil
}

// list returns the link references of all objects of the given type.
func (c *XtremIOClient) list(ctx context.Context, typ string, data map[string]any, ver string) ([]Ref, error) {
	return listObjects[Ref](ctx, c, typ, data, ver)
}

// getObject fetches one object by whichever address the request carries.
func getObject[T any](ctx context.Context, c *XtremIOClient, req *apiRequest) (*T, error) {
	var resp xmsObject[T]
	err := c.req(ctx, req, &resp)
	if err != nil {
		return nil, err
	}

	return &resp.Content, nil
}

// Connect probes the array's software version and selects the matching API
// dialect. It always probes through the legacy dialect, which every firmware
// generation understands.
func (c *XtremIOClient) Connect(ctx context.Context) error {
	c.api = &xmsV3{c: c}

	cluster, err := c.api.cluster(ctx)
	if err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("Array is not initialized, no clusters found: %w", err)
		}

		return fmt.Errorf("Failed to probe array: %w", err)
	}

	versionText, _, _ := strings.Cut(cluster.SysSWVersion, "-")
	version := make([]int, 0, 3)
	for _, part := range strings.Split(versionText, ".") {
		num, err := strconv.Atoi(part)
		if err != nil {
			break
		}

		version = append(version, num)
	}

	if len(version) == 0 || versionLess(version, xmsMinVersion) {
		return fmt.Errorf("Array software version %q is not supported, need at least 3.0.0", cluster.SysSWVersion)
	}

	c.version = cluster.SysSWVersion
	if version[0] >= 4 {
		c.api = &xmsV4{c: c}
	}

	c.logger.Info("Connected to XMS", logger.Ctx{"version": cluster.SysSWVersion, "cluster": cluster.Name})
	return nil
}

// versionLess compares two dotted version slices lexicographically.
func versionLess(a []int, b []int) bool {
	for i := range b {
		if i >= len(a) || a[i] < b[i] {
			return true
		}

		if a[i] > b[i] {
			return false
		}
	}

	return false
}

// Version returns the array software version discovered by Connect.
func (c *XtremIOClient) Version() string {
	return c.version
}

// SupportsConsistencyGroups returns whether the connected array generation
// has consistency group support.
func (c *XtremIOClient) SupportsConsistencyGroups() bool {
	return c.api.supportsConsistencyGroups()
}

// Cluster returns the cluster the client is scoped to.
func (c *XtremIOClient) Cluster(ctx context.Context) (*Cluster, error) {
	return c.api.cluster(ctx)
}

// CreateVolume creates a new volume of the given size in GiB.
func (c *XtremIOClient) CreateVolume(ctx context.Context, volName string, sizeGiB int64) error {
	data := map[string]any{
		"vol-name": volName,
		"vol-size": strconv.FormatInt(sizeGiB, 10) + "g",
	}

	return c.req(ctx, &apiRequest{typ: "volumes", method: http.MethodPost, data: data}, nil)
}

// GetVolume fetches a volume by name.
func (c *XtremIOClient) GetVolume(ctx context.Context, volName string) (*Volume, error) {
	return getObject[Volume](ctx, c, &apiRequest{typ: "volumes", method: http.MethodGet, name: volName})
}

// GetVolumeByIndex fetches a volume by index.
func (c *XtremIOClient) GetVolumeByIndex(ctx context.Context, index int) (*Volume, error) {
	return getObject[Volume](ctx, c, &apiRequest{typ: "volumes", method: http.MethodGet, index: index})
}

// Volumes fetches all volumes on the array. Volumes listed but deleted before
// they could be fetched are skipped.
func (c *XtremIOClient) Volumes(ctx context.Context) ([]Volume, error) {
	refs, err := c.list(ctx, "volumes", nil, "")
	if err != nil {
		return nil, err
	}

	volumes := make([]Volume, 0, len(refs))
	for _, ref := range refs {
		vol, err := c.GetVolume(ctx, ref.Name)
		if err != nil {
			if IsNotFound(err) {
				continue
			}

			return nil, err
		}

		volumes = append(volumes, *vol)
	}

	return volumes, nil
}

// DeleteVolume deletes a volume by name.
func (c *XtremIOClient) DeleteVolume(ctx context.Context, volName string) error {
	return c.req(ctx, &apiRequest{typ: "volumes", method: http.MethodDelete, name: volName}, nil)
}

// RenameVolume renames a volume.
func (c *XtremIOClient) RenameVolume(ctx context.Context, volName string, newName string) error {
	data := map[string]any{"vol-name": newName}
	return c.req(ctx, &apiRequest{typ: "volumes", method: http.MethodPut, name: volName, data: data}, nil)
}

// RenameVolumeByIndex renames a volume addressed by index.
func (c *XtremIOClient) RenameVolumeByIndex(ctx context.Context, index int, newName string) error {
	data := map[string]any{"vol-name": newName}
	return c.req(ctx, &apiRequest{typ: "volumes", method: http.MethodPut, index: index, data: data}, nil)
}

// ExtendVolume grows a volume to the given size in GiB.
func (c *XtremIOClient) ExtendVolume(ctx context.Context, volName string, sizeGiB int64) error {
	data := map[string]any{"vol-size": strconv.FormatInt(sizeGiB, 10) + "g"}
	return c.req(ctx, &apiRequest{typ: "volumes", method: http.MethodPut, name: volName, data: data}, nil)
}

// CreateSnapshot snapshots the source volume into a new volume. On array
// generations without read only snapshots a regular clone is produced.
func (c *XtremIOClient) CreateSnapshot(ctx context.Context, srcName string, destName string, readOnly bool) error {
	return c.api.createSnapshot(ctx, srcName, destName, readOnly)
}

// CreateLunMap maps a volume into an initiator group. With lun set to zero
// the array picks the LUN number itself. The created mapping is fetched back
// through the object link of the creation response.
func (c *XtremIOClient) CreateLunMap(ctx context.Context, volName string, igName string, lun int) (*LunMap, error) {
	data := map[string]any{
		"vol-id": volName,
		"ig-id":  igName,
	}

	if lun > 0 {
		data["lun"] = lun
	}

	var res postResult
	err := c.req(ctx, &apiRequest{typ: "lun-maps", method: http.MethodPost, data: data}, &res)
	if err != nil {
		return nil, err
	}

	typ, idx, err := res.location()
	if err != nil {
		return nil, fmt.Errorf("Failed to locate created lun map: %w", err)
	}

	return getObject[LunMap](ctx, c, &apiRequest{typ: typ, method: http.MethodGet, index: idx})
}

// FindLunMap looks up the mapping between an initiator group and a volume.
// Absence is reported as a not found error.
func (c *XtremIOClient) FindLunMap(ctx context.Context, igName string, volName string) (*LunMap, error) {
	return c.api.findLunMap(ctx, igName, volName)
}

// DeleteLunMap removes a mapping by its name.
func (c *XtremIOClient) DeleteLunMap(ctx context.Context, name string) error {
	return c.req(ctx, &apiRequest{typ: "lun-maps", method: http.MethodDelete, name: name}, nil)
}

// LunMapsForInitiatorGroup returns all mappings of the initiator group.
func (c *XtremIOClient) LunMapsForInitiatorGroup(ctx context.Context, igName string) ([]LunMap, error) {
	return c.api.igLunMaps(ctx, igName)
}

// MappedVolumeCount returns the number of volumes mapped into the initiator group.
func (c *XtremIOClient) MappedVolumeCount(ctx context.Context, igName string) (int, error) {
	lunMaps, err := c.api.igLunMaps(ctx, igName)
	if err != nil {
		return 0, err
	}

	return len(lunMaps), nil
}

// ISCSIPortals returns the array's iSCSI portals.
func (c *XtremIOClient) ISCSIPortals(ctx context.Context) ([]Portal, error) {
	return c.api.iscsiPortals(ctx)
}

// GetInitiator looks up an initiator by its port address.
func (c *XtremIOClient) GetInitiator(ctx context.Context, portAddress string) (*Initiator, error) {
	return c.api.initiator(ctx, portAddress)
}

// CreateInitiator registers an initiator in an initiator group, optionally
// with CHAP credentials.
func (c *XtremIOClient) CreateInitiator(ctx context.Context, spec *InitiatorSpec) error {
	data := map[string]any{
		"initiator-name": spec.Name,
		"ig-id":          spec.IGName,
		"port-address":   spec.PortAddress,
	}

	chapData(spec, data)
	return c.req(ctx, &apiRequest{typ: "initiators", method: http.MethodPost, data: data}, nil)
}

// UpdateInitiator updates the CHAP credentials of an existing initiator.
func (c *XtremIOClient) UpdateInitiator(ctx context.Context, index int, spec *InitiatorSpec) error {
	data := map[string]any{}
	chapData(spec, data)
	if len(data) == 0 {
		return nil
	}

	return c.req(ctx, &apiRequest{typ: "initiators", method: http.MethodPut, index: index, data: data}, nil)
}

func chapData(spec *InitiatorSpec, data map[string]any) {
	if spec.LoginUser != "" {
		data["initiator-authentication-user-name"] = spec.LoginUser
		data["initiator-authentication-password"] = spec.LoginPassword
	}

	if spec.DiscoveryUser != "" {
		data["initiator-discovery-user-name"] = spec.DiscoveryUser
		data["initiator-discovery-password"] = spec.DiscoveryPassword
	}
}

// GetInitiatorGroup fetches an initiator group by name.
func (c *XtremIOClient) GetInitiatorGroup(ctx context.Context, name string) (*InitiatorGroup, error) {
	return getObject[InitiatorGroup](ctx, c, &apiRequest{typ: "initiator-groups", method: http.MethodGet, name: name})
}

// CreateInitiatorGroup creates an empty initiator group.
func (c *XtremIOClient) CreateInitiatorGroup(ctx context.Context, name string) error {
	data := map[string]any{"ig-name": name}
	return c.req(ctx, &apiRequest{typ: "initiator-groups", method: http.MethodPost, data: data}, nil)
}

// TargetRefs lists the array's SCSI target ports.
func (c *XtremIOClient) TargetRefs(ctx context.Context) ([]Ref, error) {
	return c.list(ctx, "targets", nil, "")
}

// GetTarget fetches a target port by name.
func (c *XtremIOClient) GetTarget(ctx context.Context, name string) (*Target, error) {
	return getObject[Target](ctx, c, &apiRequest{typ: "targets", method: http.MethodGet, name: name})
}

// GetTargetGroup fetches a target group by name.
func (c *XtremIOClient) GetTargetGroup(ctx context.Context, name string) (*TargetGroup, error) {
	return getObject[TargetGroup](ctx, c, &apiRequest{typ: "target-groups", method: http.MethodGet, name: name})
}

// GetSnapshotSet fetches a snapshot set by name.
func (c *XtremIOClient) GetSnapshotSet(ctx context.Context, name string) (*SnapshotSet, error) {
	return getObject[SnapshotSet](ctx, c, &apiRequest{typ: "snapshot-sets", method: http.MethodGet, name: name, ver: "v2"})
}

// DeleteSnapshotSet deletes a snapshot set by name, leaving its member
// snapshots in place.
func (c *XtremIOClient) DeleteSnapshotSet(ctx context.Context, name string) error {
	return c.req(ctx, &apiRequest{typ: "snapshot-sets", method: http.MethodDelete, name: name, ver: "v2"}, nil)
}

// CreateConsistencyGroup creates a consistency group, optionally with an
// initial set of member volumes.
func (c *XtremIOClient) CreateConsistencyGroup(ctx context.Context, name string, volumes []string) error {
	data := map[string]any{"consistency-group-name": name}
	if len(volumes) > 0 {
		data["vol-list"] = volumes
	}

	return c.req(ctx, &apiRequest{typ: "consistency-groups", method: http.MethodPost, data: data, ver: "v2"}, nil)
}

// DeleteConsistencyGroup deletes a consistency group by name.
func (c *XtremIOClient) DeleteConsistencyGroup(ctx context.Context, name string) error {
	return c.req(ctx, &apiRequest{typ: "consistency-groups", method: http.MethodDelete, name: name, ver: "v2"}, nil)
}

// AddVolumeToConsistencyGroup adds a volume to a consistency group.
// On array generations without consistency groups this is a no-op.
func (c *XtremIOClient) AddVolumeToConsistencyGroup(ctx context.Context, volName string, cgName string) error {
	return c.api.addVolumeToConsistencyGroup(ctx, volName, cgName)
}

// RemoveVolumeFromConsistencyGroup removes a volume from a consistency group.
func (c *XtremIOClient) RemoveVolumeFromConsistencyGroup(ctx context.Context, volName string, cgName string) error {
	data := map[string]any{"vol-id": volName, "cg-id": cgName}
	return c.req(ctx, &apiRequest{typ: "consistency-group-volumes", method: http.MethodDelete, name: cgName, data: data, ver: "v2"}, nil)
}

// CreateConsistencyGroupSnapshot snapshots every member of a consistency
// group into a named snapshot set.
func (c *XtremIOClient) CreateConsistencyGroupSnapshot(ctx context.Context, cgName string, snapSetName string) error {
	data := map[string]any{
		"consistency-group-id": cgName,
		"snapshot-set-name":    snapSetName,
	}

	return c.req(ctx, &apiRequest{typ: "snapshots", method: http.MethodPost, data: data, ver: "v2"}, nil)
}

// SnapshotSetAncestors returns for each member snapshot of the set the name
// of the volume it was taken from, keyed by the snapshot name.
func (c *XtremIOClient) SnapshotSetAncestors(ctx context.Context, snapSetName string) (map[string]string, error) {
	snapSet, err := c.GetSnapshotSet(ctx, snapSetName)
	if err != nil {
		return nil, err
	}

	data := map[string]any{
		"full":  1,
		"props": "ancestor-vol-id",
	}

	volumes, err := listObjects[Volume](ctx, c, "volumes", data, "v2")
	if err != nil {
		return nil, err
	}

	ancestorByIndex := make(map[int]ObjectID, len(volumes))
	for _, vol := range volumes {
		if len(vol.AncestorVolID) > 0 {
			ancestorByIndex[vol.IndexID.Index()] = vol.AncestorVolID
		}
	}

	ancestors := make(map[string]string, len(snapSet.VolList))
	for _, member := range snapSet.VolList {
		ancestor, ok := ancestorByIndex[member.Index()]
		if !ok {
			continue
		}

		ancestors[member.Name()] = ancestor.Name()
	}

	return ancestors, nil
}
