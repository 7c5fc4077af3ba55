package drivers

import (
	"fmt"

	"github.com/sanlink/sanlink/shared/logger"
)

type common struct {
	name   string
	config map[string]string
	logger logger.Logger
}

func (d *common) init(name string, config map[string]string, l logger.Logger) {
	d.name = name
	d.config = config
	d.logger = l
}

// validatePool checks the config against the driver's rule set and rejects
// keys no rule covers.
func (d *common) validatePool(config map[string]string, driverRules map[string]func(value string) error) error {
	checkedFields := map[string]struct{}{}

	for k, validator := range driverRules {
		checkedFields[k] = struct{}{}

		value, ok := config[k]
		if !ok {
			value = ""
		}

		err := validator(value)
		if err != nil {
			return fmt.Errorf("Invalid value for option %q: %w", k, err)
		}
	}

	for k := range config {
		_, checked := checkedFields[k]
		if !checked {
			return fmt.Errorf("Invalid option %q", k)
		}
	}

	return nil
}

// fillConfig sets the given defaults for options left empty.
func (d *common) fillConfig(defaults map[string]string) {
	for k, v := range defaults {
		if d.config[k] == "" {
			d.config[k] = v
		}
	}
}

// Name returns the name the backend was loaded under.
func (d *common) Name() string {
	return d.name
}

// Config returns the backend configuration.
func (d *common) Config() map[string]string {
	return d.config
}

// Logger returns the backend logger.
func (d *common) Logger() logger.Logger {
	return d.logger
}
