package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type cmdInfo struct {
	global *cmdGlobal
}

func (c *cmdInfo) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "info"
	cmd.Short = "Show backend and array information"
	cmd.RunE = c.run

	return cmd
}

func (c *cmdInfo) run(cmd *cobra.Command, args []string) error {
	d, err := c.global.driver(cmd)
	if err != nil {
		return err
	}

	info := d.Info()
	res, err := d.GetResources(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Backend: %s\n", d.Name())
	fmt.Printf("Driver: %s\n", info.Name)
	fmt.Printf("Array version: %s\n", info.Version)
	fmt.Printf("Protocol: %s\n", info.Protocol)
	fmt.Printf("Consistency groups: %v\n", info.ConsistencyGroups)
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Space", "Bytes"})
	table.Append([]string{"Total", fmt.Sprintf("%d", res.Space.Total)})
	table.Append([]string{"Used", fmt.Sprintf("%d", res.Space.Used)})
	table.Append([]string{"Provisioned", fmt.Sprintf("%d", res.Space.Provisioned)})
	table.Render()

	return nil
}
