package main

import (
	"fmt"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/kundi/internal/config"
	"github.com/spf13/cobra"
)

var validateConfigPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and exit",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfgPath := goutils.Env("KUNDI_CONFIG", validateConfigPath)
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		fmt.Printf("config ok: %s (driver: %s, agents: %d)\n",
			cfgPath, cfg.StorageDriverName(), len(cfg.Agents))
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}
