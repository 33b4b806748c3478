package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"sip-core/sipconfig"
)

var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a sip_config document (YAML or JSON)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sipconfig.ParseFile(args[0])
		out := cmd.OutOrStdout()
		if err != nil {
			problems := sipconfig.Errors(err)
			if len(problems) == 0 {
				return err
			}
			for _, p := range problems {
				fmt.Fprintf(out, "%s\t%s\n", p.Kind, p.Message)
			}
			return fmt.Errorf("%s: %d problem(s)", args[0], len(problems))
		}
		for _, w := range sipconfig.Lint(cfg) {
			fmt.Fprintf(out, "warning\t%s\n", w)
		}
		fmt.Fprintf(out, "ok: %d extension(s), %d button(s), heartbeat %dms\n",
			len(cfg.Extensions), len(cfg.Buttons), cfg.HeartbeatIntervalMs)
		return nil
	},
}

var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the default sip_config",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any{sipconfig.OptionKey: sipconfig.Default()}); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(checkCmd, defaultsCmd)
}
