package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"wednesday-alerts/internal/storage"
)

// Chats applies the requested additions and removals, then lists the
// subscription sets with their display names.
func (a *App) Chats(ctx context.Context, opts ChatsOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(opts.Add) > 0 || len(opts.Remove) > 0 {
		if opts.Subscription == "" {
			return fmt.Errorf("--sub is required when adding or removing chats")
		}
		set := storage.ChatSet{Store: store, Sub: opts.Subscription}
		for _, id := range opts.Add {
			if err := set.AddChat(ctx, id); err != nil {
				return err
			}
			a.Logger.Info().Int64("chat_id", id).Str("subscription", string(opts.Subscription)).Msg("chat added")
		}
		for _, id := range opts.Remove {
			if err := set.RemoveChat(ctx, id); err != nil {
				return err
			}
			a.Logger.Info().Int64("chat_id", id).Str("subscription", string(opts.Subscription)).Msg("chat removed")
		}
	}

	subs := storage.Subscriptions
	if opts.Subscription != "" {
		subs = []storage.Subscription{opts.Subscription}
	}
	return writeChatTable(ctx, os.Stdout, store, subs)
}

func writeChatTable(ctx context.Context, out io.Writer, store storage.ChatStore, subs []storage.Subscription) error {
	names, err := store.DisplayNames(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Subscription\tChat ID\tName")
	for _, sub := range subs {
		ids, err := store.ListActiveChats(ctx, sub)
		if err != nil {
			return err
		}
		for _, id := range ids {
			name := names[id]
			if name == "" {
				name = "-"
			}
			fmt.Fprintf(writer, "%s\t%d\t%s\n", sub, id, name)
		}
	}
	return writer.Flush()
}
