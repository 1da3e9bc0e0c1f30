// Package main drives a single MyRvLink gateway session: it loads the
// persisted configuration, brings up the BLE transport and BlueZ
// pairing agent, and runs the session under the reconnect supervisor
// until interrupted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lippert-mrl/gateway-driver-go/bleadapt"
	"github.com/lippert-mrl/gateway-driver-go/mrl"

	"github.com/MatusOllah/slogcolor"
)

const configFile = "config.yaml"

var (
	isVerbose     = flag.Bool("verbose", false, "Enable display of DEBUG log messages")
	flagAddress   = flag.String("address", "", "Gateway BLE address (overrides config.yaml)")
	flagPIN       = flag.String("pin", "", "Gateway application PIN (overrides config.yaml)")
	flagPairing   = flag.String("pairing", "", "Pairing method, push_button or pin (overrides config.yaml)")
	wantUnpair    = flag.Bool("unpair", false, "Remove the OS-level Bluetooth bond before connecting")
	wantFreshMeta = flag.Bool("refresh-metadata", false, "Ignore the cached metadata CRC and re-request device metadata")
)

func main() {
	flag.Parse()

	opts := slogcolor.DefaultOptions
	if *isVerbose {
		opts.Level = slog.LevelDebug
	} else {
		opts.Level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slogcolor.NewHandler(os.Stderr, opts)))
	slog.Debug("Debug messages look like this")

	conf := newConfig()
	if err := conf.load(configFile); err != nil {
		switch {
		case os.IsNotExist(err):
			slog.Warn("Configuration file does not exist.", "fn", configFile)
		default:
			slog.Error("Unable to load configuration file", "fn", configFile, "err", err)
		}
	} else {
		slog.Debug("Loaded configuration.", "fn", configFile, "config", conf)
	}

	if *flagAddress != "" {
		conf.Address = *flagAddress
	}
	if *flagPIN != "" {
		conf.GatewayPIN = *flagPIN
	}
	if *flagPairing != "" {
		conf.PairingMethod = *flagPairing
	}
	if conf.Address == "" {
		slog.Error("No gateway address configured; pass -address or set address in config.yaml")
		os.Exit(1)
	}

	defer func() {
		if err := conf.write(configFile); err != nil {
			slog.Error("Error writing out configuration file", "fn", configFile, "err", err)
		} else {
			slog.Info("Wrote out config", "fn", configFile)
		}
	}()

	pairingMethod := mrl.PairingPushButton
	if strings.EqualFold(conf.PairingMethod, "pin") {
		pairingMethod = mrl.PairingPIN
	}

	transport := bleadapt.NewBLETransport(0)
	agent := bleadapt.NewDBusBondingAgent("hci0")

	session := mrl.NewSession(mrl.SessionConfig{
		Address:       conf.Address,
		GatewayPIN:    conf.GatewayPIN,
		BluetoothPIN:  conf.BluetoothPIN,
		PairingMethod: pairingMethod,
	}, transport, agent)

	session.SeedDeviceNames(conf.snapshotDeviceNames())
	if !*wantFreshMeta {
		session.SeedLastMetadataCRC(conf.LastMetadataCRC)
	}

	unsubscribe := session.Subscribe(func(ev mrl.Event) {
		logEvent(ev)
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *wantUnpair {
		ok, err := agent.RemoveBond(ctx, conf.Address)
		slog.Info("Unpair", "ok", ok, "err", err)
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				slog.Info("Stats", "auth_state", session.AuthState(), "stats", session.Stats())
				conf.mergeDeviceNames(session.DeviceNames())
				conf.setLastMetadataCRC(session.LastMetadataCRC())
				if err := conf.write(configFile); err != nil {
					slog.Warn("periodic config write failed", "err", err)
				}
			}
		}
	}()

	slog.Info("Starting session", "address", conf.Address, "pairing_method", pairingMethod)
	if err := session.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("session ended", "err", err)
	}

	conf.mergeDeviceNames(session.DeviceNames())
	conf.setLastMetadataCRC(session.LastMetadataCRC())
	slog.Info("Exiting due to signal")
}

func logEvent(ev mrl.Event) {
	switch {
	case ev.RvStatus != nil:
		slog.Info("RvStatus", "status", ev.RvStatus)
	case ev.Relay != nil:
		slog.Info("Relay", "status", ev.Relay)
	case ev.Hvac != nil:
		slog.Info("Hvac", "zones", ev.Hvac)
	case ev.Generator != nil:
		slog.Info("Generator", "status", ev.Generator)
	default:
		slog.Debug("Event", "event", ev)
	}
}
