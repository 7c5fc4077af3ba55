package drivers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sanlink/sanlink/shared"
	"github.com/sanlink/sanlink/shared/api"
	"github.com/sanlink/sanlink/shared/validate"
	"github.com/sanlink/sanlink/storage/drivers/clients"
)

// xtremioDefaultMode is the volume transport used when none is configured.
const xtremioDefaultMode = ProtocolISCSI

// xtremioChapUser is the CHAP user name registered for every initiator when
// the array enforces CHAP.
const xtremioChapUser = "chap_user"

// xtremioChapSecretLength is the length of generated CHAP secrets.
const xtremioChapSecretLength = 12

type xtremio struct {
	common

	client *clients.XtremIOClient

	// Target ports resolved once per session. Operations may run
	// concurrently against one backend.
	targetsMu    sync.Mutex
	iscsiTargets []clients.Portal
	fcTargets    []clients.Target
}

// load connects to the XMS and probes the array generation.
func (d *xtremio) load(ctx context.Context) error {
	d.fillConfig(map[string]string{
		"xtremio.gateway.verify": "true",
		"xtremio.mode":           xtremioDefaultMode,
	})

	if d.client != nil {
		return nil
	}

	conf := clients.XtremIOConfig{
		Gateway:     d.config["xtremio.gateway"],
		Username:    d.config["xtremio.user.name"],
		Password:    d.config["xtremio.user.password"],
		VerifyTLS:   shared.IsTrueOrEmpty(d.config["xtremio.gateway.verify"]),
		CABundle:    d.config["xtremio.gateway.ca_bundle"],
		ClusterName: d.config["xtremio.cluster_name"],
		// An unset interval means the default. A configured "0" stands
		// on its own and asks for immediate retries.
		BusyInterval: clients.DefaultBusyInterval,
	}

	if d.config["xtremio.busy_retry_count"] != "" {
		count, err := strconv.ParseUint(d.config["xtremio.busy_retry_count"], 10, 32)
		if err != nil {
			return err
		}

		conf.BusyRetries = uint(count)
	}

	if d.config["xtremio.busy_retry_interval"] != "" {
		seconds, err := strconv.ParseUint(d.config["xtremio.busy_retry_interval"], 10, 32)
		if err != nil {
			return err
		}

		conf.BusyInterval = time.Duration(seconds) * time.Second
	}

	client, err := clients.NewXtremIOClient(d.logger, conf)
	if err != nil {
		return err
	}

	err = client.Connect(ctx)
	if err != nil {
		return err
	}

	d.client = client
	return nil
}

// Info returns the properties of the driver and the connected array.
func (d *xtremio) Info() Info {
	info := Info{
		Name:        "xtremio",
		Protocol:    d.config["xtremio.mode"],
		Remote:      true,
		Multiattach: true,
	}

	if d.client != nil {
		info.Version = d.client.Version()
		info.ConsistencyGroups = d.client.SupportsConsistencyGroups()
	}

	return info
}

// Validate checks that the provided configuration is sound.
func (d *xtremio) Validate(config map[string]string) error {
	rules := map[string]func(value string) error{
		// XMS management endpoint URL.
		"xtremio.gateway": validate.Required(validate.IsRequestURL),
		// Whether to verify the XMS TLS certificate.
		"xtremio.gateway.verify": validate.Optional(validate.IsBool),
		// Path to a CA bundle used to verify the XMS certificate.
		"xtremio.gateway.ca_bundle": validate.Optional(validate.IsAny),
		"xtremio.user.name":         validate.Required(validate.IsNotEmpty),
		"xtremio.user.password":     validate.Required(validate.IsNotEmpty),
		// Cluster to manage on a multi cluster XMS.
		"xtremio.cluster_name": validate.Optional(validate.IsAny),
		// Transport the backend exposes volumes over.
		"xtremio.mode": validate.Optional(validate.IsOneOf(ProtocolISCSI, ProtocolFC)),
		// Retry policy applied when the array reports itself busy.
		"xtremio.busy_retry_count":    validate.Optional(validate.IsUint32),
		"xtremio.busy_retry_interval": validate.Optional(validate.IsUint32),
	}

	return d.validatePool(config, rules)
}

// GetResources returns the capacity counters of the connected cluster.
// The XMS reports space usage as strings holding KiB values.
func (d *xtremio) GetResources(ctx context.Context) (*api.ResourcesStoragePool, error) {
	cluster, err := d.client.Cluster(ctx)
	if err != nil {
		return nil, err
	}

	parseKiB := func(value string) (uint64, error) {
		if value == "" {
			return 0, nil
		}

		kib, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("Unexpected cluster space counter %q: %w", value, err)
		}

		return kib * 1024, nil
	}

	res := &api.ResourcesStoragePool{}

	res.Space.Total, err = parseKiB(cluster.UDSSDSpace)
	if err != nil {
		return nil, err
	}

	res.Space.Used, err = parseKiB(cluster.UDSSDSpaceInUse)
	if err != nil {
		return nil, err
	}

	res.Space.Provisioned, err = parseKiB(cluster.VolSize)
	if err != nil {
		return nil, err
	}

	return res, nil
}

// ListVolumes returns the volumes present on the array.
func (d *xtremio) ListVolumes(ctx context.Context) ([]Volume, error) {
	arrayVols, err := d.client.Volumes(ctx)
	if err != nil {
		return nil, err
	}

	volumes := make([]Volume, 0, len(arrayVols))
	for _, arrayVol := range arrayVols {
		volumes = append(volumes, Volume{
			Name:    arrayVol.Name,
			SizeGiB: bytesToGiB(arrayVol.SizeBytes()),
		})
	}

	return volumes, nil
}

// bytesToGiB converts a byte count to GiB, rounding up.
func bytesToGiB(size int64) int64 {
	const gib = 1024 * 1024 * 1024
	return (size + gib - 1) / gib
}
