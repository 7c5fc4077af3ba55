package drivers

import (
	"context"
	"sort"

	"github.com/sanlink/sanlink/shared/logger"
)

var drivers = map[string]func() driver{
	"xtremio": func() driver { return &xtremio{} },
	"unity":   func() driver { return &unity{} },
}

// Load returns a Driver for the given backend, validated and connected to
// its array.
func Load(ctx context.Context, driverName string, name string, config map[string]string, l logger.Logger) (Driver, error) {
	driverFunc, ok := drivers[driverName]
	if !ok {
		return nil, ErrUnknownDriver
	}

	if l == nil {
		l = logger.Log
	}

	d := driverFunc()
	d.init(name, config, l.AddContext(logger.Ctx{"driver": driverName, "backend": name}))

	err := d.Validate(config)
	if err != nil {
		return nil, err
	}

	err = d.load(ctx)
	if err != nil {
		return nil, err
	}

	return d, nil
}

// AllDriverNames returns a sorted list of all storage driver names.
func AllDriverNames() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}
