/*
Multiplexer is a lockstep relay server: it collects the events of
all connected clients and broadcasts them once every client is ready
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/HimbeerserverDE/multiplexer"
	"github.com/HimbeerserverDE/multiplexer/demo"
)

func main() {
	configPath := flag.String("config", "config/multiplexer.yml", "configuration file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage()) }
	flag.Parse()

	name := flag.Arg(0)
	if name == "" {
		name = "serve"
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprint(os.Stderr, usage())
		os.Exit(2)
	}

	if err := multiplexer.LoadEnv(); err != nil {
		log.Fatal(err)
	}

	conf, err := multiplexer.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	db, err := multiplexer.OpenConfigDB(conf)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	bans, err := multiplexer.NewBanList(db)
	if err != nil {
		log.Fatal(err)
	}

	e := &env{conf: conf, db: db, bans: bans}
	if err := cmd.run(e, flag.Args()[min(1, flag.NArg()):]); err != nil {
		log.Fatal(err)
	}
}

func serve(e *env, args []string) error {
	logger, err := multiplexer.NewLogger(e.conf.String("log_dir", "log"))
	if err != nil {
		return err
	}
	log.SetOutput(logger)
	defer logger.Close()

	if e.conf.Bool("journal", false) {
		e.journal, err = multiplexer.NewJournal(e.db)
		if err != nil {
			return err
		}
	}

	mirror, err := demo.NewMirror(e.conf.String("mirror", ""))
	if err != nil {
		return err
	}

	host := e.conf.String("host", net.JoinHostPort("0.0.0.0", strconv.Itoa(multiplexer.DefaultPort)))

	s, err := multiplexer.Listen(host, multiplexer.ServerOptions{
		Mirror:           mirror,
		SnapshotInterval: e.conf.Duration("snapshot_interval", 0),
		PlayerLimit:      e.conf.Int("player_limit", -1),
		Bans:             e.bans,
		Journal:          e.journal,
		SelectTimeout:    e.conf.Duration("select_timeout", multiplexer.DefaultSelectTimeout),
	})
	if err != nil {
		return err
	}

	s.RegisterOnJoinPlayer(func(p *multiplexer.Player) {
		log.Print("Player ", p.ID(), " joined at round ", s.Round())
	})
	s.RegisterOnLeavePlayer(func(p *multiplexer.Player) {
		log.Print("Player ", p.ID(), " left at round ", s.Round())
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = s.Serve(ctx)
	if ctx.Err() != nil {
		log.Print("Caught SIGINT or SIGTERM, shutting down")
		err = nil
	}

	log.Printf("Stopped after %d rounds, uptime %v", s.Round(), time.Duration(s.Uptime())*time.Second)
	return err
}
