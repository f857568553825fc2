package multiplexer

import (
	"context"
	"errors"
	"log"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSelectTimeout is the poll timeout of the server loop
const DefaultSelectTimeout = 50 * time.Millisecond

var (
	ErrPlayerLimitReached = errors.New("player limit reached")
	ErrServerClosed       = errors.New("server closed")
)

// An Engine is a simulation advanced once per round
// events are the PlayerJoined, PlayerLeft and Payload events of the round
type Engine interface {
	Step(dt float64, events []Event)
}

// A Snapshotter is an Engine that can serialise its state
// A nil snapshot means none is available
type Snapshotter interface {
	Snapshot() []byte
}

// ServerOptions configure a Server
type ServerOptions struct {
	// Snapshot returns the simulation state sent to new connections
	// instead of the replay history, nil if unavailable
	Snapshot func() []byte

	// SnapshotInterval is the minimum age of a cached snapshot
	// before a new connection refreshes it
	SnapshotInterval time.Duration

	// Mirror is stepped with the events of every round
	// If it is a Snapshotter and Snapshot is nil, it provides the snapshots
	Mirror Engine

	// PlayerLimit caps the number of players if it is positive
	PlayerLimit int

	Bans    *BanList
	Journal *Journal

	SelectTimeout time.Duration
}

// A Server keeps the simulations of its clients in lockstep
// A round ends once every connected player is ready
type Server struct {
	opts ServerOptions
	sel  *Selector

	players map[*PacketSocket]*Player
	pending []Event
	history [][]byte
	nextID  int32

	round     atomic.Int32
	count     atomic.Int32
	lastReady time.Time
	started   time.Time

	snapshot      []byte
	snapshotRound int32
	snapshotTime  time.Time

	journal *journalWriter

	onJoinPlayer  []func(*Player)
	onLeavePlayer []func(*Player)

	mu           sync.Mutex
	serving      bool
	quit         chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
	shutdownOnce sync.Once
}

// Listen listens on the TCP address addr and returns a Server
func Listen(addr string, opts ServerOptions) (*Server, error) {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return nil, err
	}

	s, err := NewServer(ln, opts)
	if err != nil {
		ln.Close()
		return nil, err
	}

	return s, nil
}

// NewServer returns a Server accepting connections from ln
func NewServer(ln *net.TCPListener, opts ServerOptions) (*Server, error) {
	if opts.SelectTimeout <= 0 {
		opts.SelectTimeout = DefaultSelectTimeout
	}

	if opts.Snapshot == nil {
		if sn, ok := opts.Mirror.(Snapshotter); ok {
			opts.Snapshot = sn.Snapshot
		}
	}

	now := time.Now()
	s := &Server{
		opts:      opts,
		players:   make(map[*PacketSocket]*Player),
		lastReady: now,
		started:   now,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	sel, err := NewSelector(ln, s.onConnect, s.onRead)
	if err != nil {
		return nil, err
	}
	s.sel = sel

	if opts.Journal != nil {
		s.journal = newJournalWriter(opts.Journal.Append, journalQueueSize)
	}

	return s, nil
}

// Addr returns the listen address
func (s *Server) Addr() net.Addr { return s.sel.ln.Addr() }

// Round returns the number of completed rounds
func (s *Server) Round() int32 { return s.round.Load() }

// PlayerCount reports how many players are connected
func (s *Server) PlayerCount() int { return int(s.count.Load()) }

// Uptime reports how long the Server has been running in seconds
func (s *Server) Uptime() float64 {
	return math.Floor(time.Since(s.started).Seconds())
}

// Serve runs the server loop until ctx is done or Close is called
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		return ErrServerClosed
	default:
	}
	if s.serving {
		s.mu.Unlock()
		return errors.New("server is already serving")
	}
	s.serving = true
	s.mu.Unlock()

	defer close(s.done)
	defer s.shutdown()

	log.Print("Listening on ", s.Addr())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return ErrServerClosed
		default:
		}

		if err := s.sel.Select(s.opts.SelectTimeout); err != nil {
			return err
		}
	}
}

// Close stops the server loop and disconnects all players
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })

	s.mu.Lock()
	serving := s.serving
	s.mu.Unlock()

	if serving {
		<-s.done
		return nil
	}

	s.shutdown()
	return nil
}

func (s *Server) shutdown() {
	s.shutdownOnce.Do(func() {
		for sock := range s.players {
			sock.Close()
		}
		s.players = make(map[*PacketSocket]*Player)
		s.count.Store(0)

		if err := s.sel.Close(); err != nil {
			log.Print(err)
		}

		if s.journal != nil {
			s.journal.close()
		}
	})
}

func (s *Server) onConnect(conn *net.TCPConn, addr net.Addr) Handle {
	if s.opts.Bans != nil {
		banned, name, err := s.opts.Bans.IsBanned(addr)
		if err != nil {
			log.Print(err)
		}
		if banned {
			log.Print(addr, " is banned (", name, "), rejecting")
			return nil
		}
	}

	if s.opts.PlayerLimit > 0 && len(s.players) >= s.opts.PlayerLimit {
		log.Print(addr, ": ", ErrPlayerLimitReached)
		return nil
	}

	sock, err := NewPacketSocket(conn)
	if err != nil {
		log.Print(err)
		return nil
	}

	p := &Player{id: s.nextID, sock: sock}
	s.nextID++
	s.players[sock] = p

	round := s.round.Load()
	sock.Send(Event{Kind: KindHello, PlayerID: p.id, Step: round}.appendBinary(nil))

	s.refreshSnapshot()
	if s.snapshot != nil {
		sock.Send(Event{Kind: KindReconstruct, Step: s.snapshotRound, Data: s.snapshot}.appendBinary(nil))
	}

	for _, chunk := range s.history {
		sock.SendRaw(chunk)
	}

	s.pending = append(s.pending, Event{Kind: KindPlayerJoined, PlayerID: p.id, Step: round})
	n := s.count.Add(1)

	log.Print(addr, " connected as player ", p.id, ", currently ", n, " online")
	s.processJoin(p)

	return sock
}

// refreshSnapshot replaces a missing or outdated snapshot
// A new snapshot supersedes the replay history
func (s *Server) refreshSnapshot() {
	if s.opts.Snapshot == nil {
		return
	}

	if s.snapshot != nil && time.Since(s.snapshotTime) < s.opts.SnapshotInterval {
		return
	}

	data := s.opts.Snapshot()
	if data == nil {
		return
	}

	s.snapshot = data
	s.snapshotRound = s.round.Load()
	s.snapshotTime = time.Now()
	s.history = nil

	log.Printf("Refreshed snapshot at round %d (%d bytes)", s.snapshotRound, len(data))
}

func (s *Server) onRead(h Handle) {
	sock, ok := h.(*PacketSocket)
	if !ok {
		s.sel.Unregister(h)
		return
	}

	p, ok := s.players[sock]
	if !ok {
		s.sel.Unregister(h)
		return
	}

	for _, frame := range sock.Recv() {
		var e Event
		if err := e.UnmarshalBinary(frame); err != nil {
			log.Print(p.Addr(), ": ", err)
			s.disconnect(p)
			return
		}

		switch e.Kind {
		case KindReady:
			p.ready = true
			s.checkAllReady()
		case KindPayload:
			s.pending = append(s.pending, Event{
				Kind:     KindPayload,
				PlayerID: p.id,
				Step:     s.round.Load(),
				Data:     e.Data,
			})
		default:
			log.Print(p.Addr(), " sent unexpected ", e.Kind, " event")
		}
	}

	if sock.Dead() {
		if err := sock.Err(); err != nil {
			log.Print(p.Addr(), ": ", err)
		}
		s.disconnect(p)
	}
}

func (s *Server) disconnect(p *Player) {
	if _, ok := s.players[p.sock]; !ok {
		return
	}

	addr := p.Addr()

	s.sel.Unregister(p.sock)
	delete(s.players, p.sock)
	p.sock.Close()
	p.ready = false

	s.pending = append(s.pending, Event{Kind: KindPlayerLeft, PlayerID: p.id, Step: s.round.Load()})
	n := s.count.Add(-1)

	log.Print(addr, " disconnected, currently ", n, " online")
	s.processLeave(p)

	s.checkAllReady()
}

// checkAllReady ends the round if every connected player is ready
func (s *Server) checkAllReady() {
	ready := 0
	for _, p := range s.players {
		if p.ready {
			ready++
		}
	}

	if ready == len(s.players) {
		s.allReady()
	}
}

func (s *Server) allReady() {
	now := time.Now()
	dt := now.Sub(s.lastReady).Seconds()
	s.lastReady = now

	round := s.round.Load()
	events := s.pending
	s.pending = nil

	if s.opts.Mirror != nil {
		s.opts.Mirror.Step(dt, events)
	}

	events = append(events, Event{Kind: KindReady, Step: round, TimeDelta: dt})

	var chunk []byte
	for _, e := range events {
		chunk = e.AppendFrame(chunk)
	}

	s.history = append(s.history, chunk)

	if s.journal != nil && !s.journal.append(round, chunk) {
		log.Printf("Journal queue full, round %d not recorded", round)
	}

	for _, h := range s.sel.Handles() {
		if sock, ok := h.(*PacketSocket); ok {
			sock.SendRaw(chunk)
		}
	}

	for _, p := range s.players {
		p.ready = false
	}

	s.round.Store(round + 1)
}
