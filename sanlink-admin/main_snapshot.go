package main

import (
	"github.com/spf13/cobra"

	"github.com/sanlink/sanlink/storage/drivers"
)

type cmdSnapshot struct {
	global *cmdGlobal
}

func (c *cmdSnapshot) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "snapshot"
	cmd.Short = "Manage volume snapshots"

	// snapshot create <volume> <name>
	createCmd := &cobra.Command{}
	createCmd.Use = "create <volume> <name>"
	createCmd.Short = "Snapshot a volume"
	createCmd.Args = cobra.ExactArgs(2)
	createCmd.RunE = c.runCreate
	cmd.AddCommand(createCmd)

	// snapshot delete <name>
	deleteCmd := &cobra.Command{}
	deleteCmd.Use = "delete <name>"
	deleteCmd.Short = "Delete a snapshot"
	deleteCmd.Args = cobra.ExactArgs(1)
	deleteCmd.RunE = c.runDelete
	cmd.AddCommand(deleteCmd)

	// snapshot restore <name> <volume>
	restoreCmd := &cobra.Command{}
	restoreCmd.Use = "restore <name> <volume>"
	restoreCmd.Short = "Materialize a snapshot into a new volume"
	restoreCmd.Args = cobra.ExactArgs(2)
	restoreCmd.RunE = c.runRestore
	cmd.AddCommand(restoreCmd)

	return cmd
}

func (c *cmdSnapshot) runCreate(cmd *cobra.Command, args []string) error {
	d, err := c.global.driver(cmd)
	if err != nil {
		return err
	}

	return d.CreateVolumeSnapshot(cmd.Context(), drivers.Snapshot{Volume: args[0], Name: args[1]})
}

func (c *cmdSnapshot) runDelete(cmd *cobra.Command, args []string) error {
	d, err := c.global.driver(cmd)
	if err != nil {
		return err
	}

	return d.DeleteVolumeSnapshot(cmd.Context(), drivers.Snapshot{Name: args[0]})
}

func (c *cmdSnapshot) runRestore(cmd *cobra.Command, args []string) error {
	d, err := c.global.driver(cmd)
	if err != nil {
		return err
	}

	return d.CreateVolumeFromSnapshot(cmd.Context(), drivers.Volume{Name: args[1]}, drivers.Snapshot{Name: args[0]})
}
