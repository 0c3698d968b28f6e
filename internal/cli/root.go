package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/voxd/voxd/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"                     _\n" +
		" __   _____  __  __| |\n" +
		" \\ \\ / / _ \\ \\ \\/ / _` |\n" +
		"  \\ V / (_) |>  <| (_| |\n" +
		"   \\_/ \\___//_/\\_\\\\__,_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "voxd",
	Short: "voxd - voice-driven code-execution orchestrator",
	Long:  color.CyanString(logo) + "\nRoutes chat instructions to coding-agent subprocesses, one repo at a time, many repos in parallel.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("voxd version")
		fmt.Printf("Version: %s\n", version)
	},
}

func printHeader(title string) {
	fmt.Println()
	color.New(color.FgCyan, color.Bold).Println(title)
	fmt.Println()
}
