package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/HimbeerserverDE/multiplexer"
)

type env struct {
	conf    *multiplexer.Config
	db      *multiplexer.DB
	bans    *multiplexer.BanList
	journal *multiplexer.Journal
}

type command struct {
	usage string
	run   func(e *env, args []string) error
}

var commands = make(map[string]command)

func registerCommand(name, usage string, run func(e *env, args []string) error) {
	commands[name] = command{usage: usage, run: run}
}

func usage() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Usage: multiplexer [-config file] <command>\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %s %s\n", name, commands[name].usage)
	}

	return b.String()
}

func init() {
	registerCommand("ban", "<address> [name]", func(e *env, args []string) error {
		if len(args) < 1 {
			return fmt.Errorf("usage: ban <address> [name]")
		}

		name := ""
		if len(args) > 1 {
			name = strings.Join(args[1:], " ")
		}

		if err := e.bans.Ban(args[0], name); err != nil {
			return err
		}

		fmt.Println("Banned", args[0])
		return nil
	})

	registerCommand("unban", "<address | name>", func(e *env, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("usage: unban <address | name>")
		}

		if err := e.bans.Unban(args[0]); err != nil {
			return err
		}

		fmt.Println("Unbanned", args[0])
		return nil
	})

	registerCommand("bans", "", func(e *env, args []string) error {
		list, err := e.bans.List()
		if err != nil {
			return err
		}

		addrs := make([]string, 0, len(list))
		for addr := range list {
			addrs = append(addrs, addr)
		}
		sort.Strings(addrs)

		for _, addr := range addrs {
			fmt.Printf("%s\t%s\n", addr, list[addr])
		}

		return nil
	})

	registerCommand("replay", "", func(e *env, args []string) error {
		journal, err := multiplexer.NewJournal(e.db)
		if err != nil {
			return err
		}

		return journal.Replay(func(round int32, events []multiplexer.Event) error {
			fmt.Printf("Round %d:\n", round)
			for _, ev := range events {
				fmt.Println("  ", ev)
			}

			return nil
		})
	})

	registerCommand("serve", "", serve)
}
