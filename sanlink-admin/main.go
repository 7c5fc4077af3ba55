package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sanlink/sanlink/shared/logger"
	"github.com/sanlink/sanlink/storage/drivers"
)

type cmdGlobal struct {
	flagConfig  string
	flagBackend string
	flagVerbose bool
	flagDebug   bool

	config *adminConfig
}

// driver loads the selected backend and connects it to its array.
func (c *cmdGlobal) driver(cmd *cobra.Command) (drivers.Driver, error) {
	if c.config == nil {
		config, err := loadConfig(c.flagConfig)
		if err != nil {
			return nil, err
		}

		c.config = config
	}

	name := c.flagBackend
	if name == "" {
		if len(c.config.Backends) != 1 {
			names := make([]string, 0, len(c.config.Backends))
			for backend := range c.config.Backends {
				names = append(names, backend)
			}

			sort.Strings(names)
			return nil, fmt.Errorf("Several backends configured, pick one with --backend (%s)", strings.Join(names, ", "))
		}

		for backend := range c.config.Backends {
			name = backend
		}
	}

	entry, ok := c.config.Backends[name]
	if !ok {
		return nil, fmt.Errorf("Backend %q is not configured", name)
	}

	return drivers.Load(cmd.Context(), entry.Driver, name, entry.Config, logger.Log)
}

func main() {
	globalCmd := cmdGlobal{}

	app := &cobra.Command{}
	app.Use = "sanlink-admin"
	app.Short = "Manage SAN storage array backends"
	app.Long = `Description:
  Manage SAN storage array backends

  This tool talks to the management endpoints of the configured storage
  arrays to inspect and manipulate volumes, snapshots and attachments.
`
	app.SilenceUsage = true
	app.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}

	app.PersistentFlags().StringVar(&globalCmd.flagConfig, "config", "/etc/sanlink/backends.yaml", "Path to the backends configuration")
	app.PersistentFlags().StringVar(&globalCmd.flagBackend, "backend", "", "Backend to operate on")
	app.PersistentFlags().BoolVarP(&globalCmd.flagVerbose, "verbose", "v", false, "Show all information messages")
	app.PersistentFlags().BoolVarP(&globalCmd.flagDebug, "debug", "d", false, "Show all debug messages")

	app.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return logger.InitLogger("", globalCmd.flagVerbose, globalCmd.flagDebug)
	}

	// info sub-command.
	infoCmd := cmdInfo{global: &globalCmd}
	app.AddCommand(infoCmd.command())

	// volume sub-command.
	volumeCmd := cmdVolume{global: &globalCmd}
	app.AddCommand(volumeCmd.command())

	// snapshot sub-command.
	snapshotCmd := cmdSnapshot{global: &globalCmd}
	app.AddCommand(snapshotCmd.command())

	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}
