package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type healthFullResponse struct {
	Status  string                   `json:"status"`
	Version string                   `json:"version"`
	Modules []map[string]interface{} `json:"modules"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show suite runtime and module health",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		var resp healthFullResponse
		if err := c.do("GET", "/health/full", nil, &resp); err != nil {
			return err
		}

		fmt.Printf("suite: %s (version %s)\n", resp.Status, resp.Version)
		if len(resp.Modules) == 0 {
			fmt.Println("no modules registered")
			return nil
		}
		fmt.Printf("%-20s %-12s %s\n", "MODULE", "STATE", "PORT")
		for _, m := range resp.Modules {
			fmt.Printf("%-20s %-12v %v\n", m["module_id"], m["state"], m["assigned_port"])
		}
		return nil
	},
}
