// Command aqara-bridge connects Aqara (Xiaomi) LAN gateways to Gray Logic.
//
// It listens for gateway reports on the UDP multicast group, keeps one
// accessory per device function, and mirrors state and commands onto MQTT
// under graylogic/{state,command,ack}/aqara.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Stamped by the release build with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "aqara-bridge:", err)
		os.Exit(1)
	}
}
