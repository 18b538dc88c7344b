package main

import (
	"fmt"
	"os"

	"web_relay/internal/delivery"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// chatIDCommand prints the chats found in the bot's pending updates. Add the
// bot to the target group, post any message there, then run this command.
func chatIDCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "chat-id",
		Short: "List chats the bot has seen recently, with their numeric ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Telegram.ValidateToken(); err != nil {
				return err
			}

			transport, err := delivery.NewTelegramTransport(cfg.Telegram.BotToken, cfg.Telegram.APIEndpoint)
			if err != nil {
				return err
			}

			chats, err := transport.ListChats(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(chats) == 0 {
				fmt.Println("No chats in recent updates. Post a message where the bot is a member and try again.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Chat ID", "Type", "Title", "Username"})
			for _, c := range chats {
				t.AppendRow(table.Row{c.ID, c.Type, c.Title, c.UserName})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of updates to inspect")
	return cmd
}
