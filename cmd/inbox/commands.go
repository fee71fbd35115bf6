// ABOUTME: inbox subcommands built on the gateway client and the sync layer
// ABOUTME: open --follow drives a MessageStream; watch drives a ConversationStore

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/2389/marketplace-inbox/internal/api"
	"github.com/2389/marketplace-inbox/internal/client"
	"github.com/2389/marketplace-inbox/internal/inbox"
)

// sendAttempts bounds retries of a send whose outcome is unknown. Every
// attempt reuses one idempotency key, so the gateway stores it at most once.
const sendAttempts = 3

// retryDelay is the pause before the second attempt; it grows linearly.
var retryDelay = 250 * time.Millisecond

// errSendPending means the gateway holds the idempotency key of an earlier
// attempt that has not finished storing. The message is stored at most once
// either way.
var errSendPending = errors.New("send still in progress on the gateway")

func runConversations(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("conversations", pflag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return err
	}

	convs, err := inbox.NewConversationStore(a.client, a.userID, a.logger).Load(ctx)
	if err != nil {
		return err
	}
	printConversations(a.out, convs, a.userID)
	return nil
}

// runOpen prints a conversation's history and marks it read. With --follow
// it keeps the conversation open, printing pushed messages and sending each
// line read from stdin, until interrupted.
func runOpen(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("open", pflag.ContinueOnError)
	follow := flags.BoolP("follow", "f", false, "stay attached and send lines typed on stdin")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: inbox open <conversation> [--follow]")
	}
	conversationID := flags.Arg(0)

	if !*follow {
		msgs, err := a.client.FetchMessages(ctx, conversationID)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			printMessage(a.out, m, a.userID)
		}
		return a.client.MarkMessagesAsRead(ctx, conversationID, a.userID)
	}

	stream := inbox.NewMessageStream(a.client, a.userID, a.logger)
	defer stream.Close()

	// Snapshots can arrive from several goroutines; print each message once.
	var mu sync.Mutex
	seen := make(map[string]bool)
	stream.SetOnChange(func(msgs []inbox.Message) {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range msgs {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			printMessage(a.out, m, a.userID)
		}
	})

	dropped := make(chan error, 1)
	stream.SetOnError(func(err error) {
		var subErr *inbox.SubscriptionError
		if errors.As(err, &subErr) {
			select {
			case dropped <- err:
			default:
			}
			return
		}
		fmt.Fprintf(a.errOut, "warning: %v\n", err)
	})

	if err := stream.Open(ctx, conversationID); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-dropped:
			return err
		case line, ok := <-lines:
			if !ok {
				// stdin is exhausted; keep tailing.
				lines = nil
				continue
			}
			if err := stream.Send(ctx, line); err != nil {
				fmt.Fprintf(a.errOut, "send failed: %v\n", err)
			}
		}
	}
}

// runHistory prints one page of history, optionally as rendered HTML.
func runHistory(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("history", pflag.ContinueOnError)
	limit := flags.Int("limit", 50, "messages per page")
	cursor := flags.String("cursor", "", "cursor from a previous page")
	html := flags.Bool("html", false, "print the gateway's rendered HTML instead of the raw body")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: inbox history <conversation> [--limit N] [--cursor C] [--html]")
	}

	page, err := a.client.History(ctx, flags.Arg(0), client.HistoryOptions{
		Limit:      *limit,
		Cursor:     *cursor,
		RenderHTML: *html,
	})
	if err != nil {
		return err
	}

	for _, m := range page.Messages {
		msg := m.Message
		if *html {
			msg.Body = m.BodyHTML
		}
		printMessage(a.out, msg, a.userID)
	}
	if page.HasMore {
		fmt.Fprintf(a.out, "\nmore: inbox history %s --cursor %s\n", page.ConversationID, page.NextCursor)
	}
	return nil
}

func runSend(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("send", pflag.ContinueOnError)
	attach := flags.StringArray("attach", nil, "attachment URL (repeatable)")
	key := flags.String("idempotency-key", "", "key that makes retries safe (default random)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 2 {
		return errors.New("usage: inbox send <conversation> <text> [--attach URL]")
	}

	req := api.SendMessageRequest{
		Content:        strings.Join(flags.Args()[1:], " "),
		Attachments:    attachmentsFromURLs(*attach),
		IdempotencyKey: *key,
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	var msg *inbox.Message
	err := retrySend(ctx, func() error {
		var err error
		msg, err = a.client.Send(ctx, flags.Arg(0), req)
		return err
	})
	if errors.Is(err, errSendPending) {
		fmt.Fprintf(a.out, "Pending (idempotency key %s)\n", req.IdempotencyKey)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Sent %s\n", msg.ID)
	return nil
}

func runStart(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("start", pflag.ContinueOnError)
	attach := flags.StringArray("attach", nil, "attachment URL (repeatable)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 2 {
		return errors.New("usage: inbox start <recipient> <text> [--attach URL]")
	}

	req := api.StartConversationRequest{
		RecipientID:    flags.Arg(0),
		Content:        strings.Join(flags.Args()[1:], " "),
		Attachments:    attachmentsFromURLs(*attach),
		IdempotencyKey: uuid.NewString(),
	}

	var msg *inbox.Message
	err := retrySend(ctx, func() error {
		var err error
		msg, err = a.client.StartConversation(ctx, req)
		return err
	})
	if errors.Is(err, errSendPending) {
		fmt.Fprintf(a.out, "Pending (idempotency key %s)\n", req.IdempotencyKey)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Conversation %s\n", msg.ConversationID)
	return nil
}

// runWatch prints the conversation list, then again after every change,
// until interrupted or the push channel drops.
func runWatch(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return err
	}

	store := inbox.NewConversationStore(a.client, a.userID, a.logger)
	defer store.Close()

	convs, err := store.Load(ctx)
	if err != nil {
		return err
	}

	printConversations(a.out, convs, a.userID)

	var mu sync.Mutex
	dropped := make(chan error, 1)
	_, err = store.Subscribe(ctx, func(convs []inbox.Conversation, err error) {
		if err != nil {
			var subErr *inbox.SubscriptionError
			if errors.As(err, &subErr) {
				select {
				case dropped <- err:
				default:
				}
				return
			}
			fmt.Fprintf(a.errOut, "warning: %v\n", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(a.out, "--- updated")
		printConversations(a.out, convs, a.userID)
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-dropped:
		return err
	}
}

// retrySend retries fn while its failure is a transport error, pausing
// between attempts. Gateway rejections (*client.APIError) are final, except
// a 409 on a retry: an earlier attempt reached the gateway and is still
// being stored, so the next attempt may read back its result. If no attempt
// succeeds after such a 409 the result is errSendPending.
func retrySend(ctx context.Context, fn func() error) error {
	var err error
	pending := false
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * retryDelay):
			}
		}

		err = fn()
		if err == nil || ctx.Err() != nil {
			return err
		}

		var apiErr *client.APIError
		if !errors.As(err, &apiErr) {
			continue
		}
		if attempt > 1 && apiErr.Status == http.StatusConflict {
			pending = true
			continue
		}
		return err
	}
	if pending {
		return errSendPending
	}
	return err
}

func attachmentsFromURLs(urls []string) []inbox.Attachment {
	if len(urls) == 0 {
		return nil
	}
	out := make([]inbox.Attachment, 0, len(urls))
	for _, u := range urls {
		out = append(out, inbox.Attachment{
			URL:  u,
			Name: path.Base(u),
			Type: mime.TypeByExtension(path.Ext(u)),
		})
	}
	return out
}
