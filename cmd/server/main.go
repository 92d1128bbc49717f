// Command neurobiomech-server runs the acquisition/control server: it
// drives the Delsys Trigno EMG/analog streams, a Magstim Rapid stimulator,
// and a stub NI-DAQ device through a device registry, and exposes them to a
// single remote client over the three-socket control protocol.
//
// Flags:
//
//	-dev: use a development (console, debug-level) logger instead of the
//	      production JSON logger
//	-command-port / -response-port / -live-data-port: control protocol
//	      ports (defaults 5000/5001/5002)
//	-timeout-period: handshake timeout (default 5s)
//	-live-data-interval: live-data push tick (default 100ms)
//	-delsys-host: Delsys Trigno base station address (default 127.0.0.1)
//	-magstim-port: serial port name for the Magstim Rapid
//	-nidaq-channels: channel count for the stub NI-DAQ device (0 disables it)
package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pariterre/neurobiomech-software-sub000/internal/control"
	"github.com/pariterre/neurobiomech-software-sub000/internal/control/wire"
	"github.com/pariterre/neurobiomech-software-sub000/internal/delsys"
	"github.com/pariterre/neurobiomech-software-sub000/internal/magstim"
	"github.com/pariterre/neurobiomech-software-sub000/internal/nidaq"
	"github.com/pariterre/neurobiomech-software-sub000/internal/registry"
)

func main() {
	var (
		dev              = flag.Bool("dev", false, "use a development logger")
		commandPort      = flag.Int("command-port", control.DefaultCommandPort, "control protocol command port")
		responsePort     = flag.Int("response-port", control.DefaultResponsePort, "control protocol response port")
		liveDataPort     = flag.Int("live-data-port", control.DefaultLiveDataPort, "control protocol live-data port")
		timeoutPeriod    = flag.Duration("timeout-period", control.DefaultTimeoutPeriod, "handshake timeout")
		liveDataInterval = flag.Duration("live-data-interval", control.DefaultLiveDataInterval, "live-data push tick")
		delsysHost       = flag.String("delsys-host", "127.0.0.1", "Delsys Trigno base station address")
		magstimPort      = flag.String("magstim-port", "", "serial port name for the Magstim Rapid (empty disables it)")
		nidaqChannels    = flag.Int("nidaq-channels", 0, "channel count for the stub NI-DAQ device (0 disables it)")
	)
	flag.Parse()

	logger, err := newLogger(*dev)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	reg := registry.New(logger)

	if *nidaqChannels > 0 {
		d := nidaq.New("nidaq", *nidaqChannels, 10*time.Millisecond, logger)
		if err := reg.Add(d, d); err != nil {
			logger.Fatal("failed to register nidaq device", zap.Error(err))
		}
		if err := d.Connect(); err != nil {
			logger.Fatal("failed to connect nidaq device", zap.Error(err))
		}
		if err := d.StartDataStreaming(); err != nil {
			logger.Fatal("failed to start nidaq streaming", zap.Error(err))
		}
	}

	cfg := control.ServerConfig{
		CommandPort:      *commandPort,
		ResponsePort:     *responsePort,
		LiveDataPort:     *liveDataPort,
		TimeoutPeriod:    *timeoutPeriod,
		LiveDataInterval: *liveDataInterval,
		Factories: map[uint32]control.DeviceFactory{
			wire.CmdConnectDelsysEMG: func() (registry.Device, registry.DataCollector) {
				d := delsys.NewEMG(control.DeviceDelsysEMG, *delsysHost, logger)
				return d, d
			},
			wire.CmdConnectDelsysAnalog: func() (registry.Device, registry.DataCollector) {
				d := delsys.NewAnalog(control.DeviceDelsysAnalog, *delsysHost, logger)
				return d, d
			},
			wire.CmdConnectMagstim: func() (registry.Device, registry.DataCollector) {
				d := magstim.New(control.DeviceMagstim, *magstimPort, logger)
				return d, nil
			},
		},
		DeviceNames: map[uint32]string{
			wire.CmdConnectDelsysEMG:       control.DeviceDelsysEMG,
			wire.CmdDisconnectDelsysEMG:    control.DeviceDelsysEMG,
			wire.CmdConnectDelsysAnalog:    control.DeviceDelsysAnalog,
			wire.CmdDisconnectDelsysAnalog: control.DeviceDelsysAnalog,
			wire.CmdConnectMagstim:         control.DeviceMagstim,
			wire.CmdDisconnectMagstim:      control.DeviceMagstim,
		},
	}
	if *magstimPort == "" {
		delete(cfg.Factories, wire.CmdConnectMagstim)
	}

	srv := control.NewServer(cfg, reg, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start control server", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	if err := srv.Stop(); err != nil && !errors.Is(err, control.ErrServerStopped) {
		logger.Warn("error during shutdown", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
