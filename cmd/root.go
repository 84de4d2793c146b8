// Package cmd provides the sitedesk command-line interface.
//
// Configuration is read, highest priority first, from command-line flags,
// SITEDESK_<SECTION>_<KEY> environment variables, and a YAML file: the one
// named by --config, else SITEDESK_CONFIG_FILE, else .sitedesk.yml in the
// working directory.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sitedesk/sitedesk/internal/config"
)

var (
	cfgFile     string
	projectPath string
)

var rootCmd = &cobra.Command{
	Use:   "sitedesk",
	Short: "Edit the images of a small static site and supervise its local server",
	Long: `sitedesk finds a static-site project, edits its image assets without
touching the originals, and starts, stops, and watches the local web server
that serves the site.

Quick Start:
  sitedesk locate                       Show the project sitedesk found
  sitedesk assets list                  List image assets
  sitedesk edit resize logo.png -W 150 -H 100
  sitedesk server start                 Run the site server in the foreground
  sitedesk run                          Supervisor, live asset events, control API`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is .sitedesk.yml, can also use SITEDESK_CONFIG_FILE env var)")
	pf.StringVarP(&projectPath, "project", "P", "", "project root; skips the search")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (text, json)")

	bindRootFlags()
}

func bindRootFlags() {
	pf := rootCmd.PersistentFlags()
	_ = viper.BindPFlag("project.path", pf.Lookup("project"))
	_ = viper.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", pf.Lookup("log-format"))
}

// initConfig selects the config file and enables environment overrides. A
// missing file is not an error; defaults apply.
func initConfig() {
	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv(config.EnvPrefix+"_CONFIG_FILE") != "":
		viper.SetConfigFile(os.Getenv(config.EnvPrefix + "_CONFIG_FILE"))
	default:
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sitedesk")
	}

	config.ConfigureEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
