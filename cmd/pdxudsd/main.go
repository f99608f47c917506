// File: cmd/pdxudsd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Minimal service binary hosting a UDS IPC endpoint. Demonstrates the
// dispatch loop: accept CHANNEL_OPEN, echo payloads on any other
// non-impulse opcode, release impulses, tear down on CHANNEL_CLOSE.

package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/momentics/pdxuds/control"
	"github.com/momentics/pdxuds/ipc"
)

func main() {
	path := flag.String("path", "/tmp/pdxuds-echo.sock", "endpoint socket path")
	trace := flag.Bool("trace", false, "enable verbose per-channel debug logging")
	blocking := flag.Bool("blocking", true, "block in MessageReceive between events")
	flag.Parse()

	cfg := ipc.DefaultConfig(*path).Apply(
		ipc.WithTrace(*trace),
		ipc.WithBlocking(*blocking),
	)

	debug := control.NewDebugProbes()
	var dispatched int64
	debug.RegisterProbe("messages_dispatched", func() any {
		return atomic.LoadInt64(&dispatched)
	})
	control.RegisterPlatformProbes(debug)

	ep, err := ipc.NewEndpoint(cfg, nil)
	if err != nil {
		log.Fatalf("pdxudsd: failed to create endpoint: %v", err)
	}
	defer ep.Close()

	log.Printf("pdxudsd: listening on %s", *path)

	// Runtime config lives in a ConfigStore; a reload hook propagates the
	// trace flag into the endpoint. SIGUSR1 flips it.
	cfgStore := control.NewConfigStore()
	cfgStore.SetConfig(map[string]any{"trace": *trace})
	control.RegisterReloadHook(func() {
		if v, ok := cfgStore.GetBool("trace"); ok {
			ep.SetTrace(v)
		}
	})

	usr1Ch := make(chan os.Signal, 1)
	signal.Notify(usr1Ch, syscall.SIGUSR1)
	go func() {
		on := *trace
		for range usr1Ch {
			on = !on
			cfgStore.SetConfig(map[string]any{"trace": on})
			control.TriggerHotReloadSync()
			log.Printf("pdxudsd: trace logging %v", on)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("pdxudsd: shutting down")
		ep.Shutdown()
		ep.Cancel()
	}()

	for {
		msg, err := ep.MessageReceive()
		if err != nil {
			if errors.Is(err, ipc.ErrShutdown) {
				log.Printf("pdxudsd: shutdown complete")
				return
			}
			if errors.Is(err, ipc.ErrTimedOut) {
				continue
			}
			log.Printf("pdxudsd: receive error: %v", err)
			continue
		}

		atomic.AddInt64(&dispatched, 1)
		dispatchEcho(ep, msg)
	}
}

// dispatchEcho implements the example service: CHANNEL_OPEN and
// CHANNEL_CLOSE are accepted with no extra state, impulses are released
// and need no reply, and any other opcode is echoed back verbatim.
func dispatchEcho(ep *ipc.Endpoint, msg *ipc.Message) {
	switch msg.Op {
	case ipc.OpChannelOpen:
		if err := ep.MessageReply(msg, 0); err != nil {
			log.Printf("pdxudsd: reply to CHANNEL_OPEN failed: %v", err)
		}
	case ipc.OpChannelClose:
		if err := ep.MessageReply(msg, 0); err != nil {
			log.Printf("pdxudsd: reply to CHANNEL_CLOSE failed: %v", err)
		}
	default:
		if msg.MID == ipc.IMPULSE_MESSAGE_ID {
			msg.Release()
			return
		}
		buf := make([]byte, msg.SendLen)
		n := msg.State.ReadMessageData(buf)
		msg.State.WriteMessageData(buf[:n])
		if err := ep.MessageReply(msg, 0); err != nil {
			log.Printf("pdxudsd: reply failed: %v", err)
		}
	}
}
