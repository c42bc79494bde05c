package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncNowCmd = &cobra.Command{
	Use:   "sync-now",
	Short: "Trigger an immediate cloud bridge sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		var resp map[string]string
		if err := c.do("POST", "/sync/now", nil, &resp); err != nil {
			return err
		}
		fmt.Println(resp["status"])
		return nil
	},
}
