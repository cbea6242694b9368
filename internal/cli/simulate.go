package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateFast     uint64
	simulateStandard uint64
	simulateSlow     uint64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次高 gas 费并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateStandard == 0 {
			return errors.New("--standard 必须大于 0")
		}

		fast := simulateFast
		if fast == 0 {
			fast = simulateStandard
		}
		slow := simulateSlow
		if slow == 0 {
			slow = simulateStandard
		}

		return getApp().SimulateAlert(cmd.Context(), fast, simulateStandard, slow)
	},
}

func init() {
	simulateCmd.Flags().Uint64Var(&simulateFast, "fast", 0, "fast 档 gwei（默认取 --standard）")
	simulateCmd.Flags().Uint64Var(&simulateStandard, "standard", 0, "standard 档 gwei")
	simulateCmd.Flags().Uint64Var(&simulateSlow, "slow", 0, "slow 档 gwei（默认取 --standard）")
}
