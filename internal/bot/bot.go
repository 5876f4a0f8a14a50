package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"seedrelay/internal/chat"
	"seedrelay/internal/engine"
	"seedrelay/internal/scheduler"
)

const (
	minRetryDelay = time.Second
	maxRetryDelay = time.Minute
)

// Transport is the chat capability the bot consumes.
type Transport interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]chat.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	SetMyCommands(ctx context.Context, chatID int64, commands []chat.Command) error
}

// Trigger starts or joins a scheduler job by name.
type Trigger interface {
	Trigger(name string) (string, error)
}

// Bot maps chat commands from one authorized chat onto scheduler triggers
// and replies with job summaries. Messages from any other chat are dropped
// without response.
type Bot struct {
	transport   Transport
	chatID      int64
	pollTimeout time.Duration
	sched       Trigger
	engine      *engine.Engine

	// Telegram throttles senders; one message per second is safely under
	// the per-chat limit.
	sendLimiter *rate.Limiter
}

// New wires the bot to its transport and job triggers.
func New(transport Transport, chatID int64, pollTimeout time.Duration, sched Trigger, eng *engine.Engine) *Bot {
	return &Bot{
		transport:   transport,
		chatID:      chatID,
		pollTimeout: pollTimeout,
		sched:       sched,
		engine:      eng,
		sendLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// parseCommand splits "/cmd arg..." into its name and argument.
func parseCommand(text string) (name, arg string, ok bool) {
	body, found := strings.CutPrefix(strings.TrimSpace(text), "/")
	if !found {
		return "", "", false
	}
	name, arg, _ = strings.Cut(body, " ")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(arg), true
}

// Run is the long-poll loop. Transport errors back off exponentially from
// one second up to a minute, resetting after a successful poll; the
// last-seen offset guarantees each update is handled once.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.registerCommands(ctx); err != nil {
		log.Printf("bot: register commands: %v", err)
	}

	var offset int64
	retryDelay := minRetryDelay

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := b.transport.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("bot: poll failed, retrying in %s: %v", retryDelay, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay = min(retryDelay*2, maxRetryDelay)
			continue
		}
		retryDelay = minRetryDelay

		for _, update := range updates {
			offset = update.UpdateID + 1
			if update.Message == nil {
				continue
			}
			if update.Message.Chat.ID != b.chatID {
				// Silently dropped: strangers learn nothing.
				continue
			}
			b.handleMessage(ctx, update.Message.Text)
		}
	}
}

func (b *Bot) registerCommands(ctx context.Context) error {
	return b.transport.SetMyCommands(ctx, b.chatID, []chat.Command{
		{Command: "pull", Description: "Pull torrent status from the seedbox."},
		{Command: "transfer", Description: "Transfer finished torrents to the relay."},
		{Command: "report", Description: "Report tracked torrents and artifacts."},
		{Command: "add", Description: "Submit a magnet or torrent URL to the seedbox."},
	})
}

func (b *Bot) handleMessage(ctx context.Context, text string) {
	name, arg, ok := parseCommand(text)
	if !ok {
		log.Printf("bot: ignoring non-command message")
		return
	}

	var reply string
	switch name {
	case "pull":
		reply = b.runJob(scheduler.JobPull)
	case "transfer":
		reply = b.runJob(scheduler.JobTransfer)
	case "report":
		reply = b.report()
	case "add":
		reply = b.ingest(ctx, arg)
	default:
		log.Printf("bot: unknown command %q", name)
		return
	}

	b.send(ctx, reply)
}

func (b *Bot) runJob(name string) string {
	detail, err := b.sched.Trigger(name)
	if err != nil {
		return fmt.Sprintf("%s failed: %v", name, err)
	}
	return fmt.Sprintf("%s done: %s", name, detail)
}

func (b *Bot) report() string {
	report, err := b.engine.Status()
	if err != nil {
		return fmt.Sprintf("report failed: %v", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Torrents: %d downloading, %d seeding\n",
		report.Counts.TasksDownloading, report.Counts.TasksSeeding)
	fmt.Fprintf(&sb, "Artifacts: %d pending, %d ready, %d claimed, %d deleted",
		report.Counts.ArtifactsPending, report.Counts.ArtifactsReady,
		report.Counts.ArtifactsClaimed, report.Counts.ArtifactsDeleted)
	if len(report.Ready) > 0 {
		sb.WriteString("\n\nReady for pickup:")
		for _, artifact := range report.Ready {
			fmt.Fprintf(&sb, "\n- %s\n  (%s)", artifact.Name, artifact.TaskID)
		}
	}
	return sb.String()
}

func (b *Bot) ingest(ctx context.Context, source string) string {
	if source == "" {
		return "usage: /add <magnet or torrent url>"
	}
	if err := b.engine.Ingest(ctx, source); err != nil {
		return fmt.Sprintf("add failed: %v", err)
	}
	return "submitted to seedbox"
}

func (b *Bot) send(ctx context.Context, text string) {
	if err := b.sendLimiter.Wait(ctx); err != nil {
		return
	}
	if err := b.transport.SendMessage(ctx, b.chatID, text); err != nil {
		log.Printf("bot: send reply: %v", err)
	}
}
