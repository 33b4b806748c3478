package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sipcore",
	Short: "SIP Core configuration service",
	Long: `sipcore validates and stores the SIP Core sip_config (extensions, buttons,
heartbeat interval) and serves it to the front-end panel.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "服务配置文件路径（为空则使用默认值与环境变量）")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
