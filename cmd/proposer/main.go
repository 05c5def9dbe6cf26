package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/proposer/config"
)

func main() {
	var cfgPath string
	var root = &cobra.Command{
		Use:          "proposer",
		Short:        "Plan, research, write and evaluate proposals with a team of agents",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.yaml)")

	load := func() (*config.Config, error) { return config.LoadConfig(cfgPath) }
	root.AddCommand(runCMD(load), serveCMD(load), eventsCMD(load), tokenCMD(load))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
