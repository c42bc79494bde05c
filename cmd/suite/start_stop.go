package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start MODULE_ID",
	Short: "Start a module through the suite runtime",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		var runtime map[string]interface{}
		if err := c.do("POST", "/modules/"+args[0]+"/start", nil, &runtime); err != nil {
			return err
		}
		fmt.Printf("module started: %s (state=%v)\n", args[0], runtime["state"])
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop MODULE_ID",
	Short: "Stop a module through the suite runtime",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		var runtime map[string]interface{}
		if err := c.do("POST", "/modules/"+args[0]+"/stop", nil, &runtime); err != nil {
			return err
		}
		fmt.Printf("module stopped: %s (state=%v)\n", args[0], runtime["state"])
		return nil
	},
}
