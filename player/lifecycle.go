package player

import (
	"github.com/jech/videortc/channel"
	"github.com/jech/videortc/transport"
)

// start attaches the player.  It is idempotent.
func (p *Player) start() {
	p.attached = true
	p.grace.Clear()
	p.ch.SetAutoReconnect(true)
	if p.ch.State() == channel.Open {
		if s, ok := p.config.Surface.(transport.Seeker); ok {
			s.SeekLive()
		}
		return
	}
	p.ch.Connect()
}

// stop detaches the player.  The channel is closed after the grace
// period unless start is called in the meantime.
func (p *Player) stop() {
	p.attached = false
	if p.config.Background || p.grace.Pending() {
		return
	}
	p.ch.CancelReconnect()
	p.ch.SetAutoReconnect(false)

	st := p.ch.State()
	if st != channel.Open && st != channel.Connecting {
		return
	}
	p.grace.Set(p.loop, p.config.Grace, func() {
		p.log.Debugf("detached, disconnecting")
		p.ch.Disconnect()
		p.update()
	})
}
