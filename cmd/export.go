package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <schedules.json>",
	Short: "Builds the Netzgrafik document for a set of train schedules",
	Args:  cobra.ExactArgs(1),
	RunE:  export,
}

var registryPath string

func init() {
	exportCmd.Flags().StringVarP(&registryPath, "registry", "r", "", "Operational point CSV registry")
}

func export(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if registryPath == "" {
		registryPath = cfg.Registry.Path
	}

	session, err := newSession(cfg, args[0], registryPath)
	if err != nil {
		return err
	}

	doc, err := session.BuildNetzgrafik(cmd.Context())
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
