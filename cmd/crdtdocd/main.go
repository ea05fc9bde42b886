// Command crdtdocd serves and inspects CRDT documents.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crdtdocd",
		Short: "Serve and inspect CRDT collaborative documents",
	}
	root.PersistentFlags().String("config", "", "config file (default: ./crdtdocd.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cobra.OnInitialize(func() { initConfig(root) })

	root.AddCommand(newServeCmd())
	root.AddCommand(newInspectCmd())
	return root
}

// initConfig wires viper to read CRDTDOC_* environment variables and an
// optional config file, falling back silently when neither is present.
func initConfig(root *cobra.Command) {
	viper.SetEnvPrefix("CRDTDOC")
	viper.AutomaticEnv()
	_ = viper.BindPFlags(root.PersistentFlags())

	if cfgFile, _ := root.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("crdtdocd")
		viper.AddConfigPath(".")
	}
	_ = viper.ReadInConfig()
}
