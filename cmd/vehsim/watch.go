package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/monitor"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "live terminal view of a running simulator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			client := comm.NewClient(serverAddr)
			defer client.Close()

			m := monitor.New(ctx, client, monitor.Feed(ctx, client))
			_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}
