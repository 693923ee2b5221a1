package service

import "ringrelay/internal/protocol"

// TypingRelay forwards typing indicators. Nothing is stored and nothing is acknowledged.
type TypingRelay struct {
	relay *Relay
}

func NewTypingRelay(relay *Relay) *TypingRelay {
	return &TypingRelay{relay: relay}
}

func (t *TypingRelay) Typing(from, to string) RelayResult {
	return t.relay.ToUser(to, protocol.TypingFrom(from))
}

func (t *TypingRelay) StopTyping(from, to string) RelayResult {
	return t.relay.ToUser(to, protocol.StopTypingFrom(from))
}
