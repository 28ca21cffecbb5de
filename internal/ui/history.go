package ui

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"

	"vidly/core/runner"
)

// RenderSessions 用表格展示会话汇总列表
func RenderSessions(sessions []runner.SessionRecord) error {
	data := pterm.TableData{
		{"会话ID", "操作", "开始时间", "总数", "成功", "跳过", "取消", "失败"},
	}
	for _, s := range sessions {
		data = append(data, []string{
			s.ID,
			s.Op,
			s.StartTime.Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%d", s.Total),
			fmt.Sprintf("%d", s.Success),
			fmt.Sprintf("%d", s.Skipped),
			fmt.Sprintf("%d", s.Cancelled),
			fmt.Sprintf("%d", s.Failed),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// RenderOutcomes 用表格展示单个会话的文件明细
func RenderOutcomes(records []runner.OutcomeRecord) error {
	data := pterm.TableData{
		{"文件", "终态", "耗时", "原因"},
	}
	for _, r := range records {
		data = append(data, []string{
			filepath.Base(r.Input),
			r.Kind,
			(time.Duration(r.ElapsedM) * time.Millisecond).String(),
			r.Reason,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
