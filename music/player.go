package music

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/slashbot/telemetry"
)

// ErrEmptyQueue is returned by Skip and Stop when nothing is playing.
var ErrEmptyQueue = errors.New("nothing is playing")

// Track is a queued item.
type Track struct {
	Title       string
	URL         string
	Duration    time.Duration
	RequestedBy string // user id
}

// VoiceConnector joins and leaves voice channels. The gateway implements it.
type VoiceConnector interface {
	Join(ctx context.Context, guildID, channelID string) error
	Leave(ctx context.Context, guildID string) error
}

type guildState struct {
	channelID string
	current   *Track
	queue     []Track
	timer     *time.Timer
	gen       uint64 // taken from Player.gen whenever current changes; stale timers compare against it
}

// Player keeps a FIFO queue and the now-playing track per guild. A track with
// a known duration is advanced automatically when that duration elapses.
type Player struct {
	voice VoiceConnector

	mu     sync.Mutex
	guilds map[string]*guildState
	gen    uint64 // shared by all guild states so a recreated guild never reuses a value
}

// NewPlayer returns an idle player. voice may be nil when no gateway session exists.
func NewPlayer(voice VoiceConnector) *Player {
	return &Player{voice: voice, guilds: make(map[string]*guildState)}
}

// Enqueue adds t to the guild queue. When the guild is idle the requester's
// voice channel is joined first and t starts playing; position is 0 then,
// otherwise it is the 1-based place in the waiting queue.
func (p *Player) Enqueue(ctx context.Context, guildID, channelID string, t Track) (position int, err error) {
	p.mu.Lock()
	_, busy := p.guilds[guildID]
	p.mu.Unlock()

	if !busy && p.voice != nil && channelID != "" {
		if err := p.voice.Join(ctx, guildID, channelID); err != nil {
			return 0, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	g := p.guild(guildID)
	if channelID != "" {
		g.channelID = channelID
	}
	if g.current == nil {
		p.start(guildID, g, t)
		p.reportDepth()
		return 0, nil
	}
	g.queue = append(g.queue, t)
	p.reportDepth()
	return len(g.queue), nil
}

// Skip ends the current track and starts the next one. It returns the new
// current track, or nil when the queue ran out (the voice channel is left).
func (p *Player) Skip(ctx context.Context, guildID string) (*Track, error) {
	p.mu.Lock()
	g, ok := p.guilds[guildID]
	if !ok || g.current == nil {
		p.mu.Unlock()
		return nil, ErrEmptyQueue
	}
	next := p.advance(guildID, g)
	p.reportDepth()
	p.mu.Unlock()

	if next == nil {
		p.leave(ctx, guildID)
		return nil, nil
	}
	cp := *next
	return &cp, nil
}

// Stop clears the queue and leaves the voice channel.
func (p *Player) Stop(ctx context.Context, guildID string) error {
	p.mu.Lock()
	g, ok := p.guilds[guildID]
	if !ok || g.current == nil {
		p.mu.Unlock()
		return ErrEmptyQueue
	}
	p.clear(g)
	delete(p.guilds, guildID)
	p.reportDepth()
	p.mu.Unlock()

	p.leave(ctx, guildID)
	return nil
}

// NowPlaying returns the current track of a guild.
func (p *Player) NowPlaying(guildID string) (Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.guilds[guildID]; ok && g.current != nil {
		return *g.current, true
	}
	return Track{}, false
}

// Queue returns a copy of the waiting tracks (excluding the current one).
func (p *Player) Queue(guildID string) []Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.guilds[guildID]
	if !ok {
		return nil
	}
	return append([]Track(nil), g.queue...)
}

// Close stops every guild timer.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, g := range p.guilds {
		p.clear(g)
		delete(p.guilds, id)
	}
	p.reportDepth()
}

// guild returns the state for id, creating it. Caller holds p.mu.
func (p *Player) guild(id string) *guildState {
	g, ok := p.guilds[id]
	if !ok {
		g = &guildState{}
		p.guilds[id] = g
	}
	return g
}

// start makes t current and arms the end-of-track timer. Caller holds p.mu.
func (p *Player) start(guildID string, g *guildState, t Track) {
	g.current = &t
	p.gen++
	g.gen = p.gen
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	slog.Info("now playing", slog.String("guild", guildID), slog.String("title", t.Title), slog.String("component", "music"))
	if t.Duration <= 0 {
		return
	}
	gen := g.gen
	g.timer = time.AfterFunc(t.Duration, func() { p.finished(guildID, gen) })
}

// advance pops the next queued track into current. Caller holds p.mu.
func (p *Player) advance(guildID string, g *guildState) *Track {
	if len(g.queue) == 0 {
		p.clear(g)
		delete(p.guilds, guildID)
		return nil
	}
	next := g.queue[0]
	g.queue = g.queue[1:]
	p.start(guildID, g, next)
	return g.current
}

func (p *Player) clear(g *guildState) {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.current = nil
	g.queue = nil
	p.gen++
	g.gen = p.gen
}

// finished is the timer callback for a track that ran its full duration.
func (p *Player) finished(guildID string, gen uint64) {
	p.mu.Lock()
	g, ok := p.guilds[guildID]
	if !ok || g.gen != gen {
		p.mu.Unlock()
		return
	}
	next := p.advance(guildID, g)
	p.reportDepth()
	p.mu.Unlock()
	if next == nil {
		p.leave(context.Background(), guildID)
	}
}

func (p *Player) leave(ctx context.Context, guildID string) {
	if p.voice == nil {
		return
	}
	if err := p.voice.Leave(ctx, guildID); err != nil {
		slog.Warn("leave voice channel failed", slog.String("guild", guildID), slog.Any("err", err))
	}
}

// reportDepth publishes the total number of queued tracks. Caller holds p.mu.
func (p *Player) reportDepth() {
	n := 0
	for _, g := range p.guilds {
		n += len(g.queue)
		if g.current != nil {
			n++
		}
	}
	telemetry.SetQueueDepth(n)
}
