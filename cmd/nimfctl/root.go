// nimfctl talks to a running nimf server and manages its configuration.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nimf/internal/config"
	"nimf/internal/ipc"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "nimfctl",
	Short:         "Control the nimf input method server",
	Long:          `nimfctl lists and switches engines on a running server, watches engine changes and manages the configuration file and settings database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of nimfctl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nimfctl version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "configuration file (default: platform config dir)")
	rootCmd.PersistentFlags().String("address", "", "abstract socket name of the server (default: from config)")
	rootCmd.PersistentFlags().Bool("bus", false, "use the session bus instead of the socket")
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Second, "request timeout")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nimfctl: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// dialServer connects to the socket named by --address or the config.
func dialServer(cmd *cobra.Command) (*ipc.Client, error) {
	address, _ := cmd.Flags().GetString("address")
	if address == "" {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		address = cfg.Server.Address
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ccfg := ipc.DefaultClientConfig()
	ccfg.Address = address
	ccfg.RequestTimeout = timeout
	return ipc.Connect(ccfg)
}

func useBus(cmd *cobra.Command) bool {
	bus, _ := cmd.Flags().GetBool("bus")
	return bus
}
