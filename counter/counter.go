/*
Counter is a demo client: every connected instance shares one counter
that is incremented by typing "+" and decremented by typing "-"
*/
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/HimbeerserverDE/multiplexer"
	"github.com/HimbeerserverDE/multiplexer/demo"
	"github.com/HimbeerserverDE/multiplexer/qpacket"
)

func main() {
	configPath := flag.String("config", "config/counter.yml", "configuration file")
	flag.Parse()

	if err := multiplexer.LoadEnv(); err != nil {
		log.Fatal(err)
	}

	conf, err := multiplexer.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	addr := conf.String("server", fmt.Sprintf("localhost:%d", multiplexer.DefaultPort))

	c, err := multiplexer.Dial(addr, demo.NewCounter(os.Stdout), multiplexer.ClientOptions{
		MinStepTime: conf.Duration("min_step_time", 500*time.Millisecond),
		Constructor: demo.CounterConstructor(os.Stdout),
		Codec:       demo.Codec,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	log.Print("Connected to ", addr)
	c.Start()

	fmt.Println(`Type "+" or "-" and press enter`)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if c.Reset() {
			break
		}

		for _, r := range strings.TrimSpace(scanner.Text()) {
			var err error
			switch r {
			case '+':
				err = c.SendValue(qpacket.Str("add"))
			case '-':
				err = c.SendValue(qpacket.Str("sub"))
			default:
				continue
			}

			if err != nil {
				log.Print(err)
			}
		}
	}

	if err := c.Err(); err != nil {
		log.Fatal(err)
	}
}
