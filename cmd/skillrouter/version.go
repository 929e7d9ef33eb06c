package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillrouter/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version information of skillrouter in JSON format.`,
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		if short, _ := cmd.Flags().GetBool("short"); short {
			fmt.Println(info.Version)
			return
		}
		json, err := info.JSON()
		if err != nil {
			fail(err, "failed to format version info")
		}
		fmt.Println(json)
	},
}

func init() {
	versionCmd.Flags().Bool("short", false, "Print the version number only")
}
