package gateway

import (
	"context"
	"fmt"
)

// VoiceChannel returns the voice channel userID is connected to in guildID,
// read from the session state cache. Empty when unknown.
func (g *Gateway) VoiceChannel(guildID, userID string) string {
	if g.session.State == nil {
		return ""
	}
	vs, err := g.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

// Join connects the bot to a voice channel, deafened since it never listens.
func (g *Gateway) Join(ctx context.Context, guildID, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.session.ChannelVoiceJoin(guildID, channelID, false, true); err != nil {
		return fmt.Errorf("join voice channel %s: %w", channelID, err)
	}
	return nil
}

// Leave disconnects from the guild's voice channel when connected.
func (g *Gateway) Leave(ctx context.Context, guildID string) error {
	g.session.RLock()
	vc, ok := g.session.VoiceConnections[guildID]
	g.session.RUnlock()
	if !ok || vc == nil {
		return nil
	}
	if err := vc.Disconnect(); err != nil {
		return fmt.Errorf("leave voice in guild %s: %w", guildID, err)
	}
	return nil
}
