package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"vidly/core/runner"
	"vidly/internal/ui"
)

var (
	historyLimit   int
	historySession string
)

// historyCmd 会话历史命令
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "查看批处理会话历史",
	Long: `列出最近的批处理会话及其汇总。

用--session指定会话ID可以查看该会话内每个文件的终态。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := manager.Get()
		if !cfg.Journal.Enabled {
			return fmt.Errorf("会话记录未启用 (journal.enabled=false)")
		}

		journal, err := runner.OpenJournal(cfg.Journal.Path, log.Named("journal"))
		if err != nil {
			return err
		}
		defer journal.Close()

		if historySession != "" {
			records, err := journal.SessionOutcomes(historySession)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("会话不存在或没有记录: %s", historySession)
			}
			return ui.RenderOutcomes(records)
		}

		sessions, err := journal.Sessions(historyLimit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStderr(), "还没有批处理会话记录")
			return nil
		}
		return ui.RenderSessions(sessions)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "最多列出的会话数")
	historyCmd.Flags().StringVar(&historySession, "session", "", "查看指定会话的文件明细")
}
