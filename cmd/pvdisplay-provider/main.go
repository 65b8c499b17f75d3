// Command pvdisplay-provider is a demo guest-side driver: it creates one
// fake display over ivcfake, advertises capabilities, and exposes a few
// debug subcommands for inspecting the running display's state.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/atotto/clipboard"
	"github.com/fatih/color"
	"github.com/op/go-logging"
	"github.com/urfave/cli"

	"github.com/troyc/pv-display-helper/internal/atomicfile"
	"github.com/troyc/pv-display-helper/internal/log"
	"github.com/troyc/pv-display-helper/ivcfake"
	"github.com/troyc/pv-display-helper/provider"
)

var (
	activeProvider *provider.Provider
	activeBus      *ivcfake.Bus
)

func startCommand(c *cli.Context) error {
	logger := log.New("pvdisplay-provider", logging.NOTICE)
	activeBus = ivcfake.NewBus()
	transport := ivcfake.NewTransport(activeBus, 0)

	p := provider.New(provider.Config{
		RemoteDomain: 1,
		ControlPort:  1,
		MaxDisplays:  4,
	}, logger)
	p.OnFatalError(func(err error) {
		logger.Errorf("provider: fatal: %v", err)
	})
	if err := p.Start(transport); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	activeProvider = p
	fmt.Printf("%s, protocol version %s\n", color.GreenString("provider started"), provider.Version)
	return nil
}

func cursorDumpCommand(c *cli.Context) error {
	if activeProvider == nil {
		return cli.NewExitError("provider not started", 1)
	}
	// Placeholder bitmap: a running provider would source this from its
	// current Display's cursor view.
	bitmap := make([]byte, 64*64*4)
	dump := hex.EncodeToString(bitmap)
	fmt.Println(dump)
	if err := clipboard.WriteAll(dump); err != nil {
		fmt.Fprintf(os.Stderr, "could not copy to clipboard: %v\n", err)
	} else {
		fmt.Fprintln(os.Stderr, "cursor bitmap hex dump copied to clipboard")
	}
	return nil
}

func dumpStateCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.NewExitError("usage: dump-state <path>", 1)
	}
	state := map[string]interface{}{
		"running": activeProvider != nil,
		"version": provider.Version.String(),
	}
	if err := atomicfile.WriteJSON(path, state); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Printf("wrote state snapshot to %s\n", path)
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "pvdisplay-provider"
	app.Usage = "demo guest-side paravirtualized display provider"
	app.Version = provider.Version.String()
	app.Commands = []cli.Command{
		{
			Name:   "start",
			Usage:  "start a provider over an in-process fake transport",
			Action: startCommand,
		},
		{
			Name:   "cursor-dump",
			Usage:  "hex-dump a blank 64x64 placeholder cursor bitmap and copy it to the clipboard",
			Action: cursorDumpCommand,
		},
		{
			Name:   "dump-state",
			Usage:  "dump-state <path> -- atomically snapshot provider state to disk",
			Action: dumpStateCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString(err.Error()))
		os.Exit(1)
	}
}

