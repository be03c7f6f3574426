// Package cmd provides the command-line interface for the ASN lookup service using the
// Cobra framework. It defines the root command and subcommands for starting the server
// and working with range files.
package cmd

import "github.com/spf13/cobra"

// rootCmd is the base command for the CLI. Subcommands are registered via their init() hooks.
var rootCmd = &cobra.Command{
	Use:   "asn-lookup-service",
	Short: "Resolve IP addresses to the ASN and ISP owning them",
}

// Execute runs the root Cobra command and returns any error encountered during execution.
func Execute() error {
	return rootCmd.Execute()
}
