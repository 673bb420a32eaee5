package cli

import (
	"github.com/spf13/cobra"

	"wednesday-alerts/internal/app"
	"wednesday-alerts/internal/storage"
)

var (
	chatsSub    string
	chatsAdd    []int64
	chatsRemove []int64
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List subscribed chats, optionally adding or removing some first",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ChatsOptions{Add: chatsAdd, Remove: chatsRemove}
		if chatsSub != "" {
			sub, err := storage.ParseSubscription(chatsSub)
			if err != nil {
				return err
			}
			opts.Subscription = sub
		}
		return getApp().Chats(cmd.Context(), opts)
	},
}

func init() {
	chatsCmd.Flags().StringVar(&chatsSub, "sub", "", "Subscription set (digest or crypto)")
	chatsCmd.Flags().Int64SliceVar(&chatsAdd, "add", nil, "Chat ids to subscribe")
	chatsCmd.Flags().Int64SliceVar(&chatsRemove, "remove", nil, "Chat ids to unsubscribe")
}
