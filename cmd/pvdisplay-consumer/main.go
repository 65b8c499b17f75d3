// Command pvdisplay-consumer is a demo host-side driver: it listens for a
// provider over an in-process fake transport, tracks connected displays,
// and exposes a status page for a quick visual check.
package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/op/go-logging"
	"github.com/pkg/browser"
	"github.com/urfave/cli"

	"github.com/troyc/pv-display-helper/consumer"
	"github.com/troyc/pv-display-helper/internal/log"
	"github.com/troyc/pv-display-helper/ivcfake"
	"github.com/troyc/pv-display-helper/pkt"
)

var (
	stateMu        sync.Mutex
	activeConsumer *consumer.Consumer
	connectedKeys  []uint32
)

func listenCommand(c *cli.Context) error {
	logger := log.New("pvdisplay-consumer", logging.NOTICE)
	bus := ivcfake.NewBus()
	transport := ivcfake.NewTransport(bus, 1)

	cons := consumer.New(consumer.Config{
		ControlPort:  1,
		RemoteDomain: 0,
	}, consumer.Handlers{
		DriverCapabilities: func(p pkt.DriverCapabilitiesPayload) {
			logger.Noticef("provider advertised capabilities: %+v", p)
		},
	}, logger)

	if err := cons.Listen(transport); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	stateMu.Lock()
	activeConsumer = cons
	stateMu.Unlock()

	fmt.Println(color.CyanString("consumer listening on control port 1"))
	return nil
}

func statusPage(w http.ResponseWriter, r *http.Request) {
	stateMu.Lock()
	keys := append([]uint32(nil), connectedKeys...)
	stateMu.Unlock()

	fmt.Fprintln(w, "<html><body><h1>pvdisplay-consumer status</h1><ul>")
	for _, k := range keys {
		fmt.Fprintf(w, "<li>display %d connected</li>", k)
	}
	fmt.Fprintln(w, "</ul></body></html>")
}

func statusCommand(c *cli.Context) error {
	srv := httptest.NewServer(http.HandlerFunc(statusPage))
	defer srv.Close()
	fmt.Printf("status page: %s\n", srv.URL)
	if err := browser.OpenURL(srv.URL); err != nil {
		fmt.Fprintf(os.Stderr, "could not open browser: %v\n", err)
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "pvdisplay-consumer"
	app.Usage = "demo host-side paravirtualized display consumer"
	app.Version = "1.0.0"
	app.Commands = []cli.Command{
		{
			Name:   "listen",
			Usage:  "start a consumer listening over an in-process fake transport",
			Action: listenCommand,
		},
		{
			Name:   "status",
			Usage:  "open a status page listing connected displays",
			Action: statusCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString(err.Error()))
		os.Exit(1)
	}
}
