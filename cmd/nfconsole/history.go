package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/nfconsole/pkg/config"
	"github.com/gwillem/nfconsole/pkg/recorder"
)

type HistoryCommand struct {
	DB string `long:"db" description:"Recording database (default from config)"`
}

func (c *HistoryCommand) Execute(args []string) error {
	path := c.DB
	if path == "" {
		path = loadConfig().GetRecordPath()
	}
	if path == "" {
		path = config.DefaultRecordPath
	}

	rec, err := recorder.Inspect(path)
	if err != nil {
		return err
	}
	defer rec.Close()

	sessions, err := rec.Sessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Printf("No sessions recorded in %s\n", path)
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.Mode,
			s.RobotID,
			fmt.Sprintf("%d", s.Controls),
			fmt.Sprintf("%d", s.Telemetry),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Session", "Started", "Mode", "Robot", "Controls", "Telemetry").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
	fmt.Println(t.Render())
	return nil
}
