// Package bot holds the slash-command registry, the interaction dispatcher
// and the built-in commands. It is transport agnostic: the gateway session and
// the HTTP interactions endpoint both feed interactions through a Dispatcher.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ErrDuplicateCommand is returned when a name is registered twice.
var ErrDuplicateCommand = errors.New("command already registered")

// Invocation is a single command call with its options flattened to strings.
type Invocation struct {
	Interaction    *discordgo.Interaction
	Command        string
	Options        map[string]string
	UserID         string
	GuildID        string
	ChannelID      string
	VoiceChannelID string // empty when the caller is not in voice or no gateway runs
	ReceivedAt     time.Time
}

// Option returns the trimmed value of the named option, or "".
func (inv *Invocation) Option(name string) string {
	if inv == nil || inv.Options == nil {
		return ""
	}
	return strings.TrimSpace(inv.Options[name])
}

// Response is what a handler wants sent back. Then, when set, runs after the
// initial response has been delivered and may post follow-ups.
type Response struct {
	Content   string
	Ephemeral bool
	Deferred  bool
	Then      func(ctx context.Context, f Followup)
}

// HandlerFunc handles one invocation.
type HandlerFunc func(ctx context.Context, inv *Invocation) Response

// Command is a registered slash command.
type Command struct {
	Name        string
	Description string
	Options     []*discordgo.ApplicationCommandOption
	Handler     HandlerFunc
}

// Registry is the command table. It is built once at startup and shared by
// reference; lookups are safe from any goroutine.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds c. Names are case sensitive as Discord treats them.
func (r *Registry) Register(c Command) error {
	if c.Name == "" || c.Handler == nil {
		return fmt.Errorf("register command %q: name and handler are required", c.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[c.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, c.Name)
	}
	r.commands[c.Name] = c
	return nil
}

func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	return c, ok
}

// Commands returns all commands sorted by name.
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ApplicationCommands returns the definitions for bulk registration.
func (r *Registry) ApplicationCommands() []*discordgo.ApplicationCommand {
	cmds := r.Commands()
	out := make([]*discordgo.ApplicationCommand, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, &discordgo.ApplicationCommand{
			Name:        c.Name,
			Description: c.Description,
			Options:     c.Options,
		})
	}
	return out
}

// Len reports the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}
