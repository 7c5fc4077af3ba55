package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sanlink/sanlink/shared/api"
	"github.com/sanlink/sanlink/shared/logger"
)

// Numeric error codes the Unity REST gateway reports in the body of a failed request.
const (
	unityCodeResourceNotFound = 0x7d13005
	unityCodeNameInUse        = 0x6701020
	unityCodeSnapNameInUse    = 0x6000c11
	unityCodeAlreadyAttached  = 0x6701022
	unityCodeNothingToModify  = 0x6701023
	unityCodeSystemBusy       = 0x7d13807
	unityCodePoolIsFull       = 0x6701031
)

// unityErrorKinds maps Unity error codes to error kinds.
var unityErrorKinds = map[int]ErrorKind{
	unityCodeResourceNotFound: ErrorKindNotFound,
	unityCodeNameInUse:        ErrorKindDuplicateName,
	unityCodeSnapNameInUse:    ErrorKindDuplicateName,
	unityCodeAlreadyAttached:  ErrorKindAlreadyAttached,
	unityCodeSystemBusy:       ErrorKindArrayBusy,
	unityCodePoolIsFull:       ErrorKindLimitExceeded,
}

// IsUnityNothingToModify returns whether the error indicates a modification
// request that would not change anything. The Unity rejects those instead of
// treating them as a success.
func IsUnityNothingToModify(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.Token == fmt.Sprintf("0x%x", unityCodeNothingToModify)
}

// UnitySystem holds the subset of system properties the drivers consume.
type UnitySystem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Model           string `json:"model"`
	SerialNumber    string `json:"serialNumber"`
	SoftwareVersion string `json:"softwareVersion"`
}

// UnityPool holds the subset of storage pool properties the drivers consume.
type UnityPool struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	SizeTotal      int64  `json:"sizeTotal"`
	SizeUsed       int64  `json:"sizeUsed"`
	SizeSubscribed int64  `json:"sizeSubscribed"`
}

// UnityResourceRef is a bare reference to another Unity resource.
type UnityResourceRef struct {
	ID string `json:"id"`
}

// UnityHostAccess is one entry of a LUN's host access list.
type UnityHostAccess struct {
	Host       UnityResourceRef `json:"host"`
	AccessMask int              `json:"accessMask"`
}

// UnityLUN holds the subset of LUN properties the drivers consume.
type UnityLUN struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	SizeTotal  int64             `json:"sizeTotal"`
	Pool       UnityResourceRef  `json:"pool"`
	WWN        string            `json:"wwn"`
	HostAccess []UnityHostAccess `json:"hostAccess"`
}

// UnitySnap holds the subset of snapshot properties the drivers consume.
type UnitySnap struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Lun  UnityResourceRef `json:"lun"`
}

// UnityHost holds the subset of host properties the drivers consume.
type UnityHost struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UnityHostInitiator is an initiator registered under a host.
type UnityHostInitiator struct {
	ID          string           `json:"id"`
	InitiatorID string           `json:"initiatorId"`
	Type        int              `json:"type"`
	Host        UnityResourceRef `json:"parentHost"`
}

// Unity initiator types.
const (
	unityInitiatorFC    = 1
	unityInitiatorISCSI = 2
)

// UnityHostLUN is the attachment record between a host and a LUN.
type UnityHostLUN struct {
	ID   string           `json:"id"`
	HLU  int              `json:"hlu"`
	Host UnityResourceRef `json:"host"`
	Lun  UnityResourceRef `json:"lun"`
}

// UnityPortal is a single iSCSI portal of the array.
type UnityPortal struct {
	ID        string `json:"id"`
	IPAddress string `json:"ipAddress"`
	IscsiNode struct {
		Name string `json:"name"`
	} `json:"iscsiNode"`
}

// UnityFCPort is a single Fibre Channel front end port of the array.
type UnityFCPort struct {
	ID  string `json:"id"`
	WWN string `json:"wwn"`
}

// unityInstance is the single object response envelope of the Unity gateway.
type unityInstance[T any] struct {
	Content T `json:"content"`
}

// unityCollection is the collection response envelope of the Unity gateway.
type unityCollection[T any] struct {
	Entries []unityInstance[T] `json:"entries"`
}

// UnityConfig contains the connection settings of one Unity management endpoint.
type UnityConfig struct {
	Gateway   string
	Username  string
	Password  string
	VerifyTLS bool
	CABundle  string

	// Retry policy applied when the array reports itself busy. A zero
	// interval retries immediately.
	BusyRetries  uint
	BusyInterval time.Duration
}

// UnityClient holds an HTTP client for the REST gateway of a Dell EMC Unity
// array. Mutating requests carry a CSRF token which is negotiated lazily and
// renewed once when the gateway rejects it.
type UnityClient struct {
	logger     logger.Logger
	config     UnityConfig
	httpClient *http.Client

	// The CSRF token is shared by every request going through the client.
	csrfMu    sync.RWMutex
	csrfToken string
}

// getCsrfToken returns the current CSRF token, or the empty string when no
// session has been negotiated yet.
func (c *UnityClient) getCsrfToken() string {
	c.csrfMu.RLock()
	defer c.csrfMu.RUnlock()
	return c.csrfToken
}

// setCsrfToken replaces the CSRF token. An empty token forces the next
// mutating request to log in again.
func (c *UnityClient) setCsrfToken(token string) {
	c.csrfMu.Lock()
	defer c.csrfMu.Unlock()
	c.csrfToken = token
}

// NewUnityClient creates a new instance of the HTTP client pointed to the
// Unity management endpoint.
func NewUnityClient(l logger.Logger, config UnityConfig) (*UnityClient, error) {
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

	// The gateway tracks the CSRF session through cookies.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &UnityClient{
		logger: l,
		config: config,
		httpClient: &http.Client{
			Jar: jar,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
	}, nil
}

// buildURL composes a gateway URL from path parts below /api.
func (c *UnityClient) buildURL(pathParts []string, query url.Values) (string, error) {
	scheme, host, found := strings.Cut(strings.TrimSuffix(c.config.Gateway, "/"), "://")
	if !found {
		return "", fmt.Errorf("Invalid Unity gateway URL: %q", c.config.Gateway)
	}

	u := api.NewURL().Scheme(scheme).Host(host)
	u.Path(append([]string{"api"}, pathParts...)...)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// request issues a single HTTP request against the Unity gateway without
// renewing the CSRF token.
func (c *UnityClient) request(ctx context.Context, method string, pathParts []string, query url.Values, reqBody map[string]any, response any) error {
	reqURL, err := c.buildURL(pathParts, query)
	if err != nil {
		return err
	}

	var body io.Reader
	if reqBody != nil {
		buf := &bytes.Buffer{}
		err := json.NewEncoder(buf).Encode(reqBody)
		if err != nil {
			return fmt.Errorf("Failed to encode request body: %w", err)
		}

		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("Failed to create request: %w", err)
	}

	req.SetBasicAuth(c.config.Username, c.config.Password)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("X-EMC-REST-CLIENT", "true")
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	token := c.getCsrfToken()
	if token != "" {
		req.Header.Add("EMC-CSRF-TOKEN", token)
	}

	c.logger.Debug("Sending Unity request", logger.Ctx{"method": method, "path": strings.Join(pathParts, "/")})

	resp, err := c.httpClient.Do(req)
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
			return fmt.Errorf("Failed to parse response: %w", err)
		}

		return nil
	}

	return c.classify(resp)
}

// classify converts a failed Unity response into an APIError.
func (c *UnityClient) classify(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{
		Kind:    ErrorKindUnknown,
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(string(body)),
	}

	var errResp struct {
		Error struct {
			ErrorCode int `json:"errorCode"`
			Messages  []struct {
				Locale  string `json:"locale"`
				Message string `json:"message"`
			} `json:"messages"`
		} `json:"error"`
	}

	err := json.Unmarshal(body, &errResp)
	if err == nil && errResp.Error.ErrorCode != 0 {
		apiErr.Token = fmt.Sprintf("0x%x", errResp.Error.ErrorCode)
		if len(errResp.Error.Messages) > 0 {
			apiErr.Message = errResp.Error.Messages[0].Message
		}

		kind, ok := unityErrorKinds[errResp.Error.ErrorCode]
		if ok {
			apiErr.Kind = kind
		}
	}

	if apiErr.Kind == ErrorKindUnknown && resp.StatusCode != http.StatusUnauthorized {
		c.logger.Error("Bad response from Unity gateway", logger.Ctx{"status": resp.StatusCode, "body": apiErr.Message})
	}

	return apiErr
}

// login negotiates a CSRF token by issuing a harmless read and capturing the
// token header off the response.
func (c *UnityClient) login(ctx context.Context) error {
	reqURL, err := c.buildURL([]string{"types", "loginSessionInfo", "instances"}, nil)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("Failed to create request: %w", err)
	}

	req.SetBasicAuth(c.config.Username, c.config.Password)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("X-EMC-REST-CLIENT", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Kind: ErrorKindTransport, Message: err.Error(), cause: err}
	}

	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Failed to log in to Unity gateway: status %d", resp.StatusCode)
	}

	token := resp.Header.Get("EMC-CSRF-TOKEN")
	if token == "" {
		return fmt.Errorf("Unity gateway did not hand out a CSRF token")
	}

	c.setCsrfToken(token)
	return nil
}

// requestSession issues the request once, negotiating the CSRF token for
// mutating methods and renewing it when the gateway rejects it.
func (c *UnityClient) requestSession(ctx context.Context, method string, pathParts []string, query url.Values, reqBody map[string]any, response any) error {
	retries := 1
	for {
		if method != http.MethodGet && c.getCsrfToken() == "" {
			err := c.login(ctx)
			if err != nil {
				return err
			}
		}

		err := c.request(ctx, method, pathParts, query, reqBody, response)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized && retries > 0 {
				// The token expired, log in again.
				c.setCsrfToken("")
				retries--
				continue
			}

			return err
		}

		return nil
	}
}

// requestAuthenticated issues the request with session handling, retrying
// while the array reports itself busy. Requests are re-issued verbatim on
// retry, so callers must not derive fresh identity bearing values between
// attempts.
func (c *UnityClient) requestAuthenticated(ctx context.Context, method string, pathParts []string, query url.Values, reqBody map[string]any, response any) error {
	return retryBusy(func() error {
		return c.requestSession(ctx, method, pathParts, query, reqBody, response)
	}, c.config.BusyRetries, c.config.BusyInterval)
}

// getUnityInstance fetches one object by instance path.
func getUnityInstance[T any](ctx context.Context, c *UnityClient, typ string, id string, fields string) (*T, error) {
	query := url.Values{}
	query.Set("fields", fields)

	var resp unityInstance[T]
	err := c.requestAuthenticated(ctx, http.MethodGet, []string{"instances", typ, id}, query, nil, &resp)
	if err != nil {
		return nil, err
	}

	return &resp.Content, nil
}

// listUnityInstances fetches all objects of a type, optionally filtered.
func listUnityInstances[T any](ctx context.Context, c *UnityClient, typ string, filter string, fields string) ([]T, error) {
	query := url.Values{}
	query.Set("fields", fields)
	if filter != "" {
		query.Set("filter", filter)
	}

	var resp unityCollection[T]
	err := c.requestAuthenticated(ctx, http.MethodGet, []string{"types", typ, "instances"}, query, nil, &resp)
	if err != nil {
		return nil, err
	}

	objects := make([]T, 0, len(resp.Entries))
	for _, entry := range resp.Entries {
		objects = append(objects, entry.Content)
	}

	return objects, nil
}

// GetSystem fetches the array's identity record.
func (c *UnityClient) GetSystem(ctx context.Context) (*UnitySystem, error) {
	systems, err := listUnityInstances[UnitySystem](ctx, c, "basicSystemInfo", "", "id,name,model,softwareVersion")
	if err != nil {
		return nil, err
	}

	if len(systems) == 0 {
		return nil, api.StatusErrorf(http.StatusNotFound, "No system information found")
	}

	return &systems[0], nil
}

// GetPools fetches all storage pools.
func (c *UnityClient) GetPools(ctx context.Context) ([]UnityPool, error) {
	return listUnityInstances[UnityPool](ctx, c, "pool", "", "id,name,sizeTotal,sizeUsed,sizeSubscribed")
}

// GetPoolByName fetches a storage pool by name.
func (c *UnityClient) GetPoolByName(ctx context.Context, name string) (*UnityPool, error) {
	return getUnityInstance[UnityPool](ctx, c, "pool", "name:"+name, "id,name,sizeTotal,sizeUsed,sizeSubscribed")
}

// GetPool fetches a storage pool by ID.
func (c *UnityClient) GetPool(ctx context.Context, id string) (*UnityPool, error) {
	return getUnityInstance[UnityPool](ctx, c, "pool", id, "id,name,sizeTotal,sizeUsed,sizeSubscribed")
}

const unityLUNFields = "id,name,sizeTotal,pool,wwn,hostAccess"

// CreateLUN creates a new LUN in the given pool and returns it.
func (c *UnityClient) CreateLUN(ctx context.Context, poolID string, name string, sizeBytes int64) (*UnityLUN, error) {
	reqBody := map[string]any{
		"name": name,
		"lunParameters": map[string]any{
			"pool": map[string]any{"id": poolID},
			"size": sizeBytes,
		},
	}

	err := c.requestAuthenticated(ctx, http.MethodPost, []string{"types", "storageResource", "action", "createLun"}, nil, reqBody, nil)
	if err != nil {
		return nil, err
	}

	return c.GetLUNByName(ctx, name)
}

// GetLUN fetches a LUN by ID.
func (c *UnityClient) GetLUN(ctx context.Context, id string) (*UnityLUN, error) {
	return getUnityInstance[UnityLUN](ctx, c, "lun", id, unityLUNFields)
}

// GetLUNByName fetches a LUN by name.
func (c *UnityClient) GetLUNByName(ctx context.Context, name string) (*UnityLUN, error) {
	return getUnityInstance[UnityLUN](ctx, c, "lun", "name:"+name, unityLUNFields)
}

// GetLUNs fetches all LUNs.
func (c *UnityClient) GetLUNs(ctx context.Context) ([]UnityLUN, error) {
	return listUnityInstances[UnityLUN](ctx, c, "lun", "", unityLUNFields)
}

// DeleteLUN deletes a LUN by ID.
func (c *UnityClient) DeleteLUN(ctx context.Context, id string) error {
	return c.requestAuthenticated(ctx, http.MethodDelete, []string{"instances", "storageResource", id}, nil, nil, nil)
}

// modifyLUN runs a modifyLun action against a LUN's storage resource.
func (c *UnityClient) modifyLUN(ctx context.Context, id string, reqBody map[string]any) error {
	return c.requestAuthenticated(ctx, http.MethodPost, []string{"instances", "storageResource", id, "action", "modifyLun"}, nil, reqBody, nil)
}

// ExtendLUN grows a LUN to the given size.
func (c *UnityClient) ExtendLUN(ctx context.Context, id string, sizeBytes int64) error {
	return c.modifyLUN(ctx, id, map[string]any{
		"lunParameters": map[string]any{"size": sizeBytes},
	})
}

// RenameLUN renames a LUN.
func (c *UnityClient) RenameLUN(ctx context.Context, id string, newName string) error {
	return c.modifyLUN(ctx, id, map[string]any{"name": newName})
}

// SetLUNHostAccess replaces the host access list of a LUN.
func (c *UnityClient) SetLUNHostAccess(ctx context.Context, id string, access []UnityHostAccess) error {
	entries := make([]map[string]any, 0, len(access))
	for _, entry := range access {
		entries = append(entries, map[string]any{
			"host":       map[string]any{"id": entry.Host.ID},
			"accessMask": entry.AccessMask,
		})
	}

	return c.modifyLUN(ctx, id, map[string]any{
		"lunParameters": map[string]any{"hostAccess": entries},
	})
}

// CreateSnapshot snapshots a LUN's storage resource under the given name and
// returns the snapshot.
func (c *UnityClient) CreateSnapshot(ctx context.Context, resourceID string, name string) (*UnitySnap, error) {
	reqBody := map[string]any{
		"storageResource": map[string]any{"id": resourceID},
		"name":            name,
	}

	err := c.requestAuthenticated(ctx, http.MethodPost, []string{"types", "snap", "instances"}, nil, reqBody, nil)
	if err != nil {
		return nil, err
	}

	return c.GetSnapshotByName(ctx, name)
}

// GetSnapshotByName fetches a snapshot by name.
func (c *UnityClient) GetSnapshotByName(ctx context.Context, name string) (*UnitySnap, error) {
	return getUnityInstance[UnitySnap](ctx, c, "snap", "name:"+name, "id,name,lun")
}

// DeleteSnapshot deletes a snapshot by ID.
func (c *UnityClient) DeleteSnapshot(ctx context.Context, id string) error {
	return c.requestAuthenticated(ctx, http.MethodDelete, []string{"instances", "snap", id}, nil, nil, nil)
}

// CreateLUNFromSnapshot materializes a snapshot into a new attachable LUN.
func (c *UnityClient) CreateLUNFromSnapshot(ctx context.Context, snapID string, name string) (*UnityLUN, error) {
	reqBody := map[string]any{"copyName": name}
	err := c.requestAuthenticated(ctx, http.MethodPost, []string{"instances", "snap", snapID, "action", "copy"}, nil, reqBody, nil)
	if err != nil {
		return nil, err
	}

	snap, err := c.GetSnapshotByName(ctx, name)
	if err != nil {
		return nil, err
	}

	err = c.requestAuthenticated(ctx, http.MethodPost, []string{"instances", "snap", snap.ID, "action", "attach"}, nil, map[string]any{}, nil)
	if err != nil {
		return nil, err
	}

	return c.GetLUNByName(ctx, name)
}

// GetHostByName fetches a host record by name.
func (c *UnityClient) GetHostByName(ctx context.Context, name string) (*UnityHost, error) {
	return getUnityInstance[UnityHost](ctx, c, "host", "name:"+name, "id,name")
}

// CreateHost registers a new manually managed host and returns it.
func (c *UnityClient) CreateHost(ctx context.Context, name string) (*UnityHost, error) {
	reqBody := map[string]any{
		"name": name,
		"type": 1,
	}

	err := c.requestAuthenticated(ctx, http.MethodPost, []string{"types", "host", "instances"}, nil, reqBody, nil)
	if err != nil {
		return nil, err
	}

	return c.GetHostByName(ctx, name)
}

// GetHostInitiators fetches the initiators registered under a host.
func (c *UnityClient) GetHostInitiators(ctx context.Context, hostID string) ([]UnityHostInitiator, error) {
	filter := fmt.Sprintf("parentHost.id eq %q", hostID)
	return listUnityInstances[UnityHostInitiator](ctx, c, "hostInitiator", filter, "id,initiatorId,type,parentHost")
}

// CreateHostInitiator registers an initiator under a host. The initiator
// type is derived from the identifier format.
func (c *UnityClient) CreateHostInitiator(ctx context.Context, hostID string, initiatorID string) error {
	initiatorType := unityInitiatorFC
	if strings.HasPrefix(initiatorID, "iqn.") {
		initiatorType = unityInitiatorISCSI
	}

	reqBody := map[string]any{
		"host":              map[string]any{"id": hostID},
		"initiatorType":     initiatorType,
		"initiatorWWNorIqn": initiatorID,
	}

	return c.requestAuthenticated(ctx, http.MethodPost, []string{"types", "hostInitiator", "instances"}, nil, reqBody, nil)
}

// GetHostLUN fetches the attachment record between a host and a LUN.
// Absence is reported as a not found error.
func (c *UnityClient) GetHostLUN(ctx context.Context, hostID string, lunID string) (*UnityHostLUN, error) {
	filter := fmt.Sprintf("host.id eq %q and lun.id eq %q", hostID, lunID)
	hostLUNs, err := listUnityInstances[UnityHostLUN](ctx, c, "hostLUN", filter, "id,hlu,host,lun")
	if err != nil {
		return nil, err
	}

	if len(hostLUNs) == 0 {
		return nil, api.StatusErrorf(http.StatusNotFound, "No attachment between host %q and LUN %q", hostID, lunID)
	}

	return &hostLUNs[0], nil
}

// GetHostLUNs fetches all attachment records of a host.
func (c *UnityClient) GetHostLUNs(ctx context.Context, hostID string) ([]UnityHostLUN, error) {
	filter := fmt.Sprintf("host.id eq %q", hostID)
	return listUnityInstances[UnityHostLUN](ctx, c, "hostLUN", filter, "id,hlu,host,lun")
}

// ModifyHostLUN changes the HLU under which a host sees an attached LUN.
func (c *UnityClient) ModifyHostLUN(ctx context.Context, hostID string, hostLUNID string, hlu int) error {
	reqBody := map[string]any{
		"hostLunModifyList": []map[string]any{
			{
				"hostLUN": map[string]any{"id": hostLUNID},
				"hlu":     hlu,
			},
		},
	}

	return c.requestAuthenticated(ctx, http.MethodPost, []string{"instances", "host", hostID, "action", "modifyHostLUNs"}, nil, reqBody, nil)
}

// GetIscsiPortals fetches the array's iSCSI portals.
func (c *UnityClient) GetIscsiPortals(ctx context.Context) ([]UnityPortal, error) {
	return listUnityInstances[UnityPortal](ctx, c, "iscsiPortal", "", "id,ipAddress,iscsiNode")
}

// GetFCPorts fetches the array's Fibre Channel front end ports.
func (c *UnityClient) GetFCPorts(ctx context.Context) ([]UnityFCPort, error) {
	return listUnityInstances[UnityFCPort](ctx, c, "fcPort", "", "id,wwn")
}
