package drivers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sanlink/sanlink/shared"
	"github.com/sanlink/sanlink/shared/api"
	"github.com/sanlink/sanlink/shared/validate"
	"github.com/sanlink/sanlink/storage/drivers/clients"
)

type unity struct {
	common

	client  *clients.UnityClient
	pool    *clients.UnityPool
	version string
}

// load connects to the Unity management endpoint and resolves the configured pool.
func (d *unity) load(ctx context.Context) error {
	d.fillConfig(map[string]string{
		"unity.gateway.verify": "true",
		"unity.mode":           ProtocolISCSI,
	})

	if d.client != nil {
		return nil
	}

	conf := clients.UnityConfig{
		Gateway:   d.config["unity.gateway"],
		Username:  d.config["unity.user.name"],
		Password:  d.config["unity.user.password"],
		VerifyTLS: shared.IsTrueOrEmpty(d.config["unity.gateway.verify"]),
		CABundle:  d.config["unity.gateway.ca_bundle"],
		// An unset interval means the default. A configured "0" stands
		// on its own and asks for immediate retries.
		BusyInterval: clients.DefaultBusyInterval,
	}

	if d.config["unity.busy_retry_count"] != "" {
		count, err := strconv.ParseUint(d.config["unity.busy_retry_count"], 10, 32)
		if err != nil {
			return err
		}

		conf.BusyRetries = uint(count)
	}

	if d.config["unity.busy_retry_interval"] != "" {
		seconds, err := strconv.ParseUint(d.config["unity.busy_retry_interval"], 10, 32)
		if err != nil {
			return err
		}

		conf.BusyInterval = time.Duration(seconds) * time.Second
	}

	client, err := clients.NewUnityClient(d.logger, conf)
	if err != nil {
		return err
	}

	system, err := client.GetSystem(ctx)
	if err != nil {
		return fmt.Errorf("Failed to probe array: %w", err)
	}

	pool, err := client.GetPoolByName(ctx, d.config["unity.pool"])
	if err != nil {
		if clients.IsNotFound(err) {
			return fmt.Errorf("Pool %q does not exist on the array", d.config["unity.pool"])
		}

		return err
	}

	d.client = client
	d.pool = pool
	d.version = system.SoftwareVersion
	return nil
}

// Info returns the properties of the driver and the connected array.
func (d *unity) Info() Info {
	return Info{
		Name:        "unity",
		Version:     d.version,
		Protocol:    d.config["unity.mode"],
		Remote:      true,
		Multiattach: true,
	}
}

// Validate checks that the provided configuration is sound.
func (d *unity) Validate(config map[string]string) error {
	rules := map[string]func(value string) error{
		// Unisphere management endpoint URL.
		"unity.gateway": validate.Required(validate.IsRequestURL),
		// Whether to verify the gateway TLS certificate.
		"unity.gateway.verify": validate.Optional(validate.IsBool),
		// Path to a CA bundle used to verify the gateway certificate.
		"unity.gateway.ca_bundle": validate.Optional(validate.IsAny),
		"unity.user.name":         validate.Required(validate.IsNotEmpty),
		"unity.user.password":     validate.Required(validate.IsNotEmpty),
		// Storage pool the backend carves volumes out of.
		"unity.pool": validate.Required(validate.IsNotEmpty),
		// Transport the backend exposes volumes over.
		"unity.mode": validate.Optional(validate.IsOneOf(ProtocolISCSI, ProtocolFC)),
		// Retry policy applied when the array reports itself busy.
		"unity.busy_retry_count":    validate.Optional(validate.IsUint32),
		"unity.busy_retry_interval": validate.Optional(validate.IsUint32),
	}

	return d.validatePool(config, rules)
}

// GetResources returns the capacity counters of the configured pool.
func (d *unity) GetResources(ctx context.Context) (*api.ResourcesStoragePool, error) {
	pool, err := d.client.GetPool(ctx, d.pool.ID)
	if err != nil {
		return nil, err
	}

	res := &api.ResourcesStoragePool{}
	res.Space.Total = uint64(pool.SizeTotal)
	res.Space.Used = uint64(pool.SizeUsed)
	res.Space.Provisioned = uint64(pool.SizeSubscribed)
	return res, nil
}

// ListVolumes returns the volumes carved out of the configured pool.
func (d *unity) ListVolumes(ctx context.Context) ([]Volume, error) {
	luns, err := d.client.GetLUNs(ctx)
	if err != nil {
		return nil, err
	}

	volumes := make([]Volume, 0, len(luns))
	for _, lun := range luns {
		if lun.Pool.ID != d.pool.ID {
			continue
		}

		volumes = append(volumes, Volume{
			Name:    lun.Name,
			SizeGiB: bytesToGiB(lun.SizeTotal),
		})
	}

	return volumes, nil
}
