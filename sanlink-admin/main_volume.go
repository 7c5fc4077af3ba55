package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sanlink/sanlink/shared/logger"
	"github.com/sanlink/sanlink/storage/drivers"
)

type cmdVolume struct {
	global *cmdGlobal

	flagIQN   string
	flagWWPNs []string
}

func (c *cmdVolume) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "volume"
	cmd.Short = "Manage volumes"

	// volume list
	listCmd := &cobra.Command{}
	listCmd.Use = "list"
	listCmd.Short = "List volumes"
	listCmd.RunE = c.runList
	cmd.AddCommand(listCmd)

	// volume create <name> <size GiB>
	createCmd := &cobra.Command{}
	createCmd.Use = "create <name> <size>"
	createCmd.Short = "Create a volume of the given size in GiB"
	createCmd.Args = cobra.ExactArgs(2)
	createCmd.RunE = c.runCreate
	cmd.AddCommand(createCmd)

	// volume delete <name>
	deleteCmd := &cobra.Command{}
	deleteCmd.Use = "delete <name>"
	deleteCmd.Short = "Delete a volume"
	deleteCmd.Args = cobra.ExactArgs(1)
	deleteCmd.RunE = c.runDelete
	cmd.AddCommand(deleteCmd)

	// volume extend <name> <size GiB>
	extendCmd := &cobra.Command{}
	extendCmd.Use = "extend <name> <size>"
	extendCmd.Short = "Grow a volume to the given size in GiB"
	extendCmd.Args = cobra.ExactArgs(2)
	extendCmd.RunE = c.runExtend
	cmd.AddCommand(extendCmd)

	// volume rename <name> <new name>
	renameCmd := &cobra.Command{}
	renameCmd.Use = "rename <name> <new name>"
	renameCmd.Short = "Rename a volume"
	renameCmd.Args = cobra.ExactArgs(2)
	renameCmd.RunE = c.runRename
	cmd.AddCommand(renameCmd)

	// volume attach <name> <host>
	attachCmd := &cobra.Command{}
	attachCmd.Use = "attach <name> <host>"
	attachCmd.Short = "Attach a volume to a host"
	attachCmd.Args = cobra.ExactArgs(2)
	attachCmd.RunE = c.runAttach
	attachCmd.Flags().StringVar(&c.flagIQN, "iqn", "", "iSCSI initiator name of the host")
	attachCmd.Flags().StringSliceVar(&c.flagWWPNs, "wwpn", nil, "Fibre Channel port name of the host (repeatable)")
	cmd.AddCommand(attachCmd)

	// volume detach <name> <host>
	detachCmd := &cobra.Command{}
	detachCmd.Use = "detach <name> <host>"
	detachCmd.Short = "Detach a volume from a host"
	detachCmd.Args = cobra.ExactArgs(2)
	detachCmd.RunE = c.runDetach
	detachCmd.Flags().StringVar(&c.flagIQN, "iqn", "", "iSCSI initiator name of the host")
	detachCmd.Flags().StringSliceVar(&c.flagWWPNs, "wwpn", nil, "Fibre Channel port name of the host (repeatable)")
	cmd.AddCommand(detachCmd)

	return cmd
}

func (c *cmdVolume) connector(host string) *drivers.Connector {
	return &drivers.Connector{
		Host:  host,
		IQN:   c.flagIQN,
		WWPNs: c.flagWWPNs,
	}
}

func (c *cmdVolume) runList(cmd *cobra.Command, args []string) error {
	d, err := c.global.driver(cmd)
	if err != nil {
		return err
	}

	volumes, err := d.ListVolumes(cmd.Context())
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Size (GiB)"})
	for _, vol := range volumes {
		table.Append([]string{vol.Name, strconv.FormatInt(vol.SizeGiB, 10)})
	}

	table.Render()
	return nil
}

func (c *cmdVolume) runCreate(cmd *cobra.Command, args []string) error {
	d, err := c.global.driver(cmd)
	if err != nil {
		return err
	}

	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("Invalid size %q: %w", args[1], err)
	}

	return d.CreateVolume(cmd.Context(), drivers.Volume{Name: args[0], SizeGiB: size})
}

func (c *cmdVolume) runDelete(cmd *cobra.Command, args []string) error {
	d, err := c.global.driver(cmd)
	if err != nil {
		return err
	}

	return d.DeleteVolume(cmd.Context(), drivers.Volume{Name: args[0]})
}

func (c *cmdVolume) runExtend(cmd *cobra.Command, args []string) error {
	d, err := c.global.driver(cmd)
	if err != nil {
		return err
	}

	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("Invalid size %q: %w", args[1], err)
	}

	return d.ExtendVolume(cmd.Context(), drivers.Volume{Name: args[0]}, size)
}

func (c *cmdVolume) runRename(cmd *cobra.Command, args []string) error {
	d, err := c.global.driver(cmd)
	if err != nil {
		return err
	}

	return d.RenameVolume(cmd.Context(), drivers.Volume{Name: args[0]}, args[1])
}

func (c *cmdVolume) runAttach(cmd *cobra.Command, args []string) error {
	d, err := c.global.driver(cmd)
	if err != nil {
		return err
	}

	info, err := d.InitializeConnection(cmd.Context(), drivers.Volume{Name: args[0]}, c.connector(args[1]))
	if err != nil {
		return err
	}

	logger.Debug("Connection established", logger.Ctx{"volume": args[0], "info": logger.Pretty(info)})

	fmt.Printf("Protocol: %s\n", info.Protocol)
	fmt.Printf("LUN: %d\n", info.LUN)

	if info.Protocol == drivers.ProtocolISCSI {
		fmt.Printf("Target: %s\n", info.TargetIQN)
		fmt.Printf("Portal: %s\n", info.TargetPortal)
		if info.Chap != nil {
			fmt.Printf("CHAP user: %s\n", info.Chap.LoginUser)
		}
	} else {
		for _, wwn := range info.TargetWWNs {
			fmt.Printf("Target port: %s\n", wwn)
		}
	}

	return nil
}

func (c *cmdVolume) runDetach(cmd *cobra.Command, args []string) error {
	d, err := c.global.driver(cmd)
	if err != nil {
		return err
	}

	_, err = d.TerminateConnection(cmd.Context(), drivers.Volume{Name: args[0]}, c.connector(args[1]))
	return err
}
