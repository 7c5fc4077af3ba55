package drivers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadUnknownDriver(t *testing.T) {
	_, err := Load(context.Background(), "zfs", "pool1", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestLoadValidatesConfig(t *testing.T) {
	// Missing required options.
	_, err := Load(context.Background(), "xtremio", "pool1", map[string]string{}, nil)
	assert.ErrorContains(t, err, "xtremio.gateway")

	// Unknown option.
	_, err = Load(context.Background(), "xtremio", "pool1", map[string]string{
		"xtremio.gateway":       "https://xms.example.net",
		"xtremio.user.name":     "admin",
		"xtremio.user.password": "secret",
		"xtremio.wipe":          "true",
	}, nil)
	assert.ErrorContains(t, err, `Invalid option "xtremio.wipe"`)

	// Bad transport mode.
	_, err = Load(context.Background(), "xtremio", "pool1", map[string]string{
		"xtremio.gateway":       "https://xms.example.net",
		"xtremio.user.name":     "admin",
		"xtremio.user.password": "secret",
		"xtremio.mode":          "nvme",
	}, nil)
	assert.ErrorContains(t, err, "xtremio.mode")
}

func TestAllDriverNames(t *testing.T) {
	assert.Equal(t, []string{"unity", "xtremio"}, AllDriverNames())
}
