package multiplexer

import "net"

// A Player is a connection accepted by a Server
type Player struct {
	id    int32
	sock  *PacketSocket
	ready bool
}

// ID returns the id the Server assigned to the Player
func (p *Player) ID() int32 { return p.id }

// Addr returns the remote address of the Player
func (p *Player) Addr() net.Addr { return p.sock.Addr() }

// Ready reports whether the Player is ready for the next round
func (p *Player) Ready() bool { return p.ready }

// RegisterOnJoinPlayer registers a function that is called
// after a Player has been greeted
func (s *Server) RegisterOnJoinPlayer(function func(*Player)) {
	s.onJoinPlayer = append(s.onJoinPlayer, function)
}

// RegisterOnLeavePlayer registers a function that is called
// after a Player has disconnected
func (s *Server) RegisterOnLeavePlayer(function func(*Player)) {
	s.onLeavePlayer = append(s.onLeavePlayer, function)
}

func (s *Server) processJoin(p *Player) {
	for i := range s.onJoinPlayer {
		s.onJoinPlayer[i](p)
	}
}

func (s *Server) processLeave(p *Player) {
	for i := range s.onLeavePlayer {
		s.onLeavePlayer[i](p)
	}
}
