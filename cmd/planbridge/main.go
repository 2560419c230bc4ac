// Package main is the entry point for planbridge.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "config.yaml"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "planbridge",
	Short: "Tenant-keyed proxy for the Anthropic Messages API",
	Long: `planbridge sits between API clients and the Anthropic Messages API,
authenticating tenant access keys and forwarding requests to the plan
upstream. When the plan is rate limited or unavailable, requests fall back
to the tenant's own AWS Bedrock credentials.`,
}

func init() {
	// Global flags available to all subcommands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+defaultConfigFile+" or ~/.config/planbridge/"+defaultConfigFile+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
