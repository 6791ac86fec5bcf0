package cmd

import (
	"github.com/spf13/cobra"
)

// Build metadata injected by the release pipeline.
var (
	BuildVersion = "dev"
	BuildCommit  = "unknown"
	BuildDate    = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "muguet",
	Short: "muguet - local reverse proxy and DNS for Docker containers",
	Long: `muguet watches the local Docker daemon and exposes every running
container under <name>.<domain>, with a built-in DNS server so no
/etc/hosts edits are needed.`,
}

// Execute runs the CLI with the given build metadata.
func Execute(version, commit, date string) error {
	BuildVersion = version
	BuildCommit = commit
	BuildDate = date
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./muguet.yml)")
}
