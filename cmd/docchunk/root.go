package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "docchunk",
	Short: "Split documents into header-aware segments",
	Long: `docchunk divides Markdown and other documents into segments that keep
their header path as metadata, stay near a target size, and never cut a
fenced code block.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}
