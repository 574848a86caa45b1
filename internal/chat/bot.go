// Package chat is the Discord front-end. It offers /start and /stop slash
// commands over the allow-listed containers and shows the running set as
// the bot's presence.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"

	"dozer/internal/events"
	"dozer/internal/lifecycle"
)

var _ events.Sink = (*Bot)(nil)

const (
	cmdStart  = "start"
	cmdStop   = "stop"
	optServer = "server"

	// Discord rejects options with more choices than this.
	maxChoices = 25
)

// Gateway is the slice of the Discord session the bot talks through.
// Production: *discordgo.Session
// Testing: recording fake in bot_test.go
type Gateway interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	UpdateGameStatus(idle int, name string) error
}

// Conn is the connection lifecycle of a Discord session.
type Conn interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
}

// Controller is what the bot asks to act on the host.
// Production: *lifecycle.Orchestrator
type Controller interface {
	HandleStart(ctx context.Context, name string) lifecycle.Result
	HandleStop(ctx context.Context, name string) lifecycle.Result
	Catalog(ctx context.Context) ([]string, error)
}

type Bot struct {
	gw      Gateway
	ctl     Controller
	guildID string
	log     *slog.Logger

	intents sync.WaitGroup

	mu       sync.Mutex
	stopping bool
	appID    string
	choices  []string
	presence string
	applied  string
	dirty    chan struct{}
}

// NewSession builds a bot session from a token. It does not connect.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	return s, nil
}

// New builds a bot. An empty guildID registers commands globally.
func New(gw Gateway, ctl Controller, guildID string) *Bot {
	return &Bot{
		gw:      gw,
		ctl:     ctl,
		guildID: guildID,
		log:     slog.With("component", "chat"),
		dirty:   make(chan struct{}, 1),
	}
}

// Run connects, serves interactions, and blocks until ctx is done. In-flight
// intents are waited for before the connection closes.
func (b *Bot) Run(ctx context.Context, conn Conn) error {
	removers := []func(){
		conn.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			b.ready(ctx, r.User.ID)
		}),
		conn.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
			b.handle(ctx, ic.Interaction)
		}),
	}
	if err := conn.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	b.log.Info("connected to Discord")

	for {
		select {
		case <-b.dirty:
			b.flushPresence()
		case <-ctx.Done():
			for _, remove := range removers {
				remove()
			}
			// Handlers already dispatched may still run; track refuses them.
			b.mu.Lock()
			b.stopping = true
			b.mu.Unlock()
			b.intents.Wait()
			if err := conn.Close(); err != nil {
				b.log.Warn("closing Discord gateway failed", "err", err)
			}
			return nil
		}
	}
}

// track registers one background task. It reports false once Run is
// shutting down.
func (b *Bot) track() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping {
		return false
	}
	b.intents.Add(1)
	return true
}

// ready records the application ID and registers commands. The first ready
// builds the choice list, which may wake the host, so it runs off the gateway
// goroutine. Later ones (gateway reconnects) reuse the loaded choices.
func (b *Bot) ready(ctx context.Context, appID string) {
	b.mu.Lock()
	b.appID = appID
	loaded := b.choices != nil
	cached := slices.Clone(b.choices)
	b.mu.Unlock()

	if !b.track() {
		return
	}
	go func() {
		defer b.intents.Done()
		if loaded {
			b.register(appID, cached)
			return
		}
		b.refresh(ctx)
	}()
}

// Commands builds the slash commands offering choices.
func Commands(choices []string) []*discordgo.ApplicationCommand {
	opts := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(choices))
	for _, c := range choices {
		if len(opts) == maxChoices {
			break
		}
		opts = append(opts, &discordgo.ApplicationCommandOptionChoice{Name: c, Value: c})
	}
	command := func(name, desc string) *discordgo.ApplicationCommand {
		return &discordgo.ApplicationCommand{
			Name:        name,
			Description: desc,
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optServer,
				Description: "game server",
				Required:    true,
				Choices:     opts,
			}},
		}
	}
	return []*discordgo.ApplicationCommand{
		command(cmdStart, "starts a server"),
		command(cmdStop, "stops a server"),
	}
}

// refresh reloads the catalog and re-registers commands if it changed.
func (b *Bot) refresh(ctx context.Context) {
	names, err := b.ctl.Catalog(ctx)
	if err != nil {
		b.log.Warn("could not load containers, keeping previous choices", "err", err)
		return
	}
	if len(names) > maxChoices {
		b.log.Warn("too many containers for one command, truncating choices", "count", len(names), "max", maxChoices)
	}

	b.mu.Lock()
	appID := b.appID
	same := b.choices != nil && slices.Equal(b.choices, names)
	if !same {
		b.choices = names
	}
	b.mu.Unlock()

	if same || appID == "" {
		return
	}
	b.register(appID, names)
}

func (b *Bot) register(appID string, names []string) {
	if _, err := b.gw.ApplicationCommandBulkOverwrite(appID, b.guildID, Commands(names)); err != nil {
		b.log.Error("registering slash commands failed", "err", err)
		return
	}
	b.log.Info("loaded containers", "containers", names)
}

// handle acknowledges a slash command at once and runs the intent in the
// background, replying with an ephemeral follow-up.
func (b *Bot) handle(ctx context.Context, i *discordgo.Interaction) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != cmdStart && data.Name != cmdStop {
		return
	}
	server := ""
	for _, o := range data.Options {
		if o.Name == optServer {
			server = o.StringValue()
		}
	}
	b.log.Info("command received", "command", data.Name, "container", server, "user", author(i))
	if !b.track() {
		b.log.Debug("shutting down, ignoring command", "command", data.Name)
		return
	}

	err := b.gw.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.intents.Done()
		b.log.Error("deferring interaction failed", "err", err)
		return
	}

	go func() {
		defer b.intents.Done()

		var res lifecycle.Result
		if data.Name == cmdStart {
			res = b.ctl.HandleStart(ctx, server)
		} else {
			res = b.ctl.HandleStop(ctx, server)
		}

		_, err := b.gw.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
			Content: res.Message,
			Flags:   discordgo.MessageFlagsEphemeral,
		})
		if err != nil {
			b.log.Error("sending reply failed", "err", err)
		}

		// Catalog would wake the host all over again.
		if res.Kind != lifecycle.ResultUnreachable {
			b.refresh(ctx)
		}
	}()
}

// Wait blocks until every in-flight intent has replied.
func (b *Bot) Wait() {
	b.intents.Wait()
}

// Emit tracks the running set reported by monitor cycles. The presence is
// pushed from Run so the monitor never waits on the gateway.
func (b *Bot) Emit(e events.Event) {
	if e.Kind != events.MonitorCycle {
		return
	}
	switch lifecycle.Outcome(e.Outcome) {
	case lifecycle.OutcomeSkipped, lifecycle.OutcomeError:
		return
	}
	status := ""
	if len(e.Running) > 0 {
		status = fmt.Sprint(e.Running)
	}

	b.mu.Lock()
	b.presence = status
	b.mu.Unlock()
	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

func (b *Bot) flushPresence() {
	b.mu.Lock()
	status := b.presence
	if status == b.applied {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if err := b.gw.UpdateGameStatus(0, status); err != nil {
		b.log.Debug("updating presence failed", "err", err)
		return
	}
	b.mu.Lock()
	b.applied = status
	b.mu.Unlock()
	b.log.Debug("presence updated", "playing", status)
}

func author(i *discordgo.Interaction) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.Username
	case i.User != nil:
		return i.User.Username
	default:
		return "unknown"
	}
}
