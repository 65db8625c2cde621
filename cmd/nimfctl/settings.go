package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"nimf/internal/config"
	"nimf/internal/engine"
	"nimf/internal/store"
)

var defaultCmd = &cobra.Command{
	Use:   "default [engine-id]",
	Short: "Show or change the default engine",
	Long: `Without arguments, default prints the engine new contexts start with and where
that choice comes from. With an id it stores an override in the settings
database; --reset removes the override so the configuration file applies again.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.Settings.Database)
		if err != nil {
			return err
		}
		defer st.Close()
		settings := store.NewSettings(st, cfg, nil)

		reset, _ := cmd.Flags().GetBool("reset")
		switch {
		case reset:
			if err := settings.ResetDefaultEngine(); err != nil {
				return err
			}
			fmt.Printf("default engine override removed, now %s\n", settings.DefaultEngineID())
			return nil

		case len(args) == 1:
			id := args[0]
			if !knownEngine(cfg, id) {
				return fmt.Errorf("%w: %s is not listed in the configuration", engine.ErrUnknownEngine, id)
			}
			if err := settings.SetDefaultEngine(id); err != nil {
				return err
			}
			fmt.Printf("default engine set to %s (applies to new contexts)\n", id)
			return nil
		}

		id := settings.DefaultEngineID()
		source := "built-in"
		if v, ok, err := st.Get(store.KeyDefaultEngine); err == nil && ok && v == id {
			source = "settings database"
		} else if cfg.Server.DefaultEngine == id {
			source = "configuration file"
		}
		fmt.Printf("%s (%s)\n", id, source)
		return nil
	},
}

func knownEngine(cfg *config.Config, id string) bool {
	if id == store.BuiltinDefaultEngine {
		return true
	}
	for _, e := range cfg.Engines {
		if e.ID == id {
			return true
		}
	}
	return false
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = filepath.Join(config.PlatformConfigDir(), "config.toml")
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		err = cfg.Validate()
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, w := range verrs.Warnings() {
				fmt.Printf("warning: %s\n", w.Error())
			}
			if verrs.HasErrors() {
				for _, e := range verrs.Errors() {
					fmt.Printf("error: %s\n", e.Error())
				}
				return fmt.Errorf("%s is invalid", path)
			}
		} else if err != nil {
			return err
		}
		fmt.Printf("%s is valid\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		data, err := config.Encode(cfg, strings.ToLower(format))
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		return nil
	},
}

func init() {
	defaultCmd.Flags().Bool("reset", false, "remove the stored override")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configShowCmd.Flags().String("format", "toml", "output format: toml, json or yaml")

	configCmd.AddCommand(configInitCmd, configCheckCmd, configShowCmd)
	rootCmd.AddCommand(defaultCmd, configCmd)
}
