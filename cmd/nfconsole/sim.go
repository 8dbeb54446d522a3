package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gwillem/nfconsole/pkg/config"
	"github.com/gwillem/nfconsole/pkg/sim"
)

type SimCommand struct {
	Addr  string `long:"addr" default:":8080" description:"Listen address"`
	Token string `long:"token" description:"Token for /telemetry/:robotId (default $NF_TOKEN)"`
	Seed  uint64 `long:"seed" description:"Fix the sensor noise seed"`
	Quiet bool   `short:"q" long:"quiet" description:"Disable the access log"`
}

func (c *SimCommand) Execute(args []string) error {
	token := c.Token
	if token == "" {
		token = config.LoadEnv()
	}

	cfg := sim.Config{Token: token, Seed: c.Seed}
	if c.Quiet {
		cfg.AccessLog = io.Discard
	}
	srv := sim.NewServer(cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		srv.Shutdown()
	}()

	fmt.Println(headerStyle.Render("nfconsole simulator"))
	fmt.Printf("Listening on %s\n", c.Addr)
	fmt.Println(dimStyle.Render("  /sim                  simulated robot"))
	fmt.Println(dimStyle.Render("  /telemetry/:robotId   cloud relay endpoint"))
	fmt.Println(dimStyle.Render("  /healthz              health check"))
	if token == "" {
		fmt.Println(dimStyle.Render("No token set; any token is accepted."))
	}

	return srv.Listen(c.Addr)
}
