package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hooks is the set of driver callbacks an Async device dispatches into. A
// driver (delsys.Driver, magstim.Driver, ...) implements this and is
// otherwise unaware of worker/queue/timer plumbing: one generic runner
// parameterized by the driver's hook set, in place of deep inheritance.
type Hooks interface {
	// HandleAsyncConnect runs on the worker goroutine before anything else.
	// A non-nil error aborts Connect and the worker exits without arming
	// the keep-alive timer.
	HandleAsyncConnect() error

	// HandleAsyncDisconnect runs on the worker goroutine as the last thing
	// before it exits, whether disconnect was requested by the caller or
	// forced by a transport error.
	HandleAsyncDisconnect() error

	// ParseAsyncSendCommand executes one command on the worker goroutine and
	// returns the response to deliver to the caller.
	ParseAsyncSendCommand(cmd Command, payload any) (Response, error)
}

// Pinger is implemented by drivers that need to do something on every
// keep-alive tick (Magstim's POKE). Drivers that don't care simply don't
// implement it; the keep-alive timer still fires and keeps the worker
// responsive to interval changes.
type Pinger interface {
	PingWorker() error
}

type job struct {
	cmd     Command
	payload any
	fast    bool
	reply   chan Response
}

const jobQueueSize = 32

// Async is the generic worker-backed device: connect/disconnect spawn and
// tear down a dedicated goroutine; send/sendFast enqueue work for it. All
// I/O happens on that one goroutine, so the driver hooks never need their
// own locking around the transport ("Not thread-safe;
// serialized by the enclosing device worker").
type Async struct {
	*Base
	hooks  Hooks
	logger *zap.Logger

	mu            sync.Mutex
	jobs          chan job
	quit          chan struct{}
	workerDone    chan struct{}
	intervalChg   chan time.Duration
	connectResult chan error
}

// NewAsync wraps hooks in the generic async-device runner.
func NewAsync(name string, keepAliveInterval time.Duration, hooks Hooks, logger *zap.Logger) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{
		Base:   NewBase(name, keepAliveInterval),
		hooks:  hooks,
		logger: logger,
	}
}

// Connect spawns the worker goroutine, which runs HandleAsyncConnect before
// anything else. It blocks until that hook returns (or the worker fails to
// start), mirroring "connect spawns the worker ... on success it arms a
// repeating timer".
func (a *Async) Connect() error {
	a.mu.Lock()
	if a.State() != Disconnected {
		a.mu.Unlock()
		return ErrAlreadyConnected
	}
	a.setState(Connecting)
	a.jobs = make(chan job, jobQueueSize)
	a.quit = make(chan struct{})
	a.workerDone = make(chan struct{})
	a.intervalChg = make(chan time.Duration, 1)
	connectResult := make(chan error, 1)
	a.connectResult = connectResult
	a.mu.Unlock()

	go a.run(connectResult)

	err := <-connectResult
	if err != nil {
		a.setFailedToConnect(true)
		a.setState(Disconnected)
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	a.setFailedToConnect(false)
	a.setState(Connected)
	return nil
}

func (a *Async) run(connectResult chan<- error) {
	defer close(a.workerDone)

	if err := a.hooks.HandleAsyncConnect(); err != nil {
		connectResult <- err
		return
	}
	connectResult <- nil

	timer := time.NewTimer(a.KeepAliveInterval())
	armedAt := time.Now()
	defer timer.Stop()

	for {
		select {
		case <-a.quit:
			a.drainWithDisconnected()
			if err := a.hooks.HandleAsyncDisconnect(); err != nil {
				a.logger.Warn("handleAsyncDisconnect error", zap.String("device", a.Name()), zap.Error(err))
			}
			return

		case j := <-a.jobs:
			resp, err := a.hooks.ParseAsyncSendCommand(j.cmd, j.payload)
			if err != nil {
				a.logger.Warn("device command failed", zap.String("device", a.Name()), zap.String("command", string(j.cmd)), zap.Error(err))
				if errors.Is(err, ErrTransportClosed) {
					if j.reply != nil {
						j.reply <- NOK
					}
					a.forceDisconnectFromWorker()
					a.drainWithDisconnected()
					if derr := a.hooks.HandleAsyncDisconnect(); derr != nil {
						a.logger.Warn("handleAsyncDisconnect error", zap.String("device", a.Name()), zap.Error(derr))
					}
					return
				}
				resp = NOK
			}
			if j.reply != nil {
				j.reply <- resp
			}

		case newInterval := <-a.intervalChg:
			elapsed := time.Since(armedAt)
			remaining := newInterval - elapsed
			if remaining < 0 {
				remaining = 0
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(remaining)
			armedAt = time.Now().Add(remaining - newInterval)

		case <-timer.C:
			if pinger, ok := a.hooks.(Pinger); ok {
				if err := pinger.PingWorker(); err != nil {
					a.logger.Warn("ping failed", zap.String("device", a.Name()), zap.Error(err))
					if errors.Is(err, ErrTransportClosed) {
						a.forceDisconnectFromWorker()
						a.drainWithDisconnected()
						if derr := a.hooks.HandleAsyncDisconnect(); derr != nil {
							a.logger.Warn("handleAsyncDisconnect error", zap.String("device", a.Name()), zap.Error(derr))
						}
						return
					}
				}
			}
			armedAt = time.Now()
			timer.Reset(a.KeepAliveInterval())
		}
	}
}

// forceDisconnectFromWorker flips state to Disconnected from inside the
// worker goroutine itself, ahead of the worker actually exiting, so a
// concurrent caller's IsConnected() reflects reality immediately.
func (a *Async) forceDisconnectFromWorker() {
	a.setState(Disconnecting)
	a.setState(Disconnected)
}

func (a *Async) drainWithDisconnected() {
	for {
		select {
		case j := <-a.jobs:
			if j.reply != nil {
				j.reply <- DeviceNotConnected
			}
		default:
			return
		}
	}
}

// SetKeepAliveInterval changes the ping cadence. If connected, it cancels
// the pending timer and reschedules so the next ping still fires within one
// interval of now, preserving elapsed time in the current cycle (used by
// Magstim arm/disarm).
func (a *Async) SetKeepAliveInterval(d time.Duration) {
	a.mu.Lock()
	a.keepAliveIntervalLocked(d)
	ch := a.intervalChg
	connected := a.State() == Connected
	a.mu.Unlock()

	if connected && ch != nil {
		select {
		case ch <- d:
		default:
		}
	}
}

func (a *Async) keepAliveIntervalLocked(d time.Duration) {
	a.Base.mu.Lock()
	a.Base.keepAliveInterval = d
	a.Base.mu.Unlock()
}

// Disconnect tears the worker down: closes the transport (via
// HandleAsyncDisconnect), stops the timer, drains the job queue with
// DEVICE_NOT_CONNECTED, and joins. Idempotent - calling it on an already
// disconnected device is a no-op success.
func (a *Async) Disconnect() error {
	a.mu.Lock()
	if a.State() == Disconnected {
		a.mu.Unlock()
		return nil
	}
	a.setState(Disconnecting)
	quit := a.quit
	done := a.workerDone
	a.mu.Unlock()

	if quit != nil {
		select {
		case <-quit:
		default:
			close(quit)
		}
	}
	if done != nil {
		<-done
	}
	a.setState(Disconnected)
	return nil
}

// Send posts cmd to the worker and blocks for its reply.
func (a *Async) Send(cmd Command, payload any) (Response, error) {
	return a.sendInternal(cmd, payload, false)
}

// SendFast posts cmd to the worker without waiting for a reply: it returns
// OK immediately if connected, and the command still executes in order on
// the worker.
func (a *Async) SendFast(cmd Command, payload any) (Response, error) {
	return a.sendInternal(cmd, payload, true)
}

func (a *Async) sendInternal(cmd Command, payload any, fast bool) (Response, error) {
	a.mu.Lock()
	if a.State() != Connected {
		a.mu.Unlock()
		return DeviceNotConnected, ErrNotConnected
	}
	jobs := a.jobs
	a.mu.Unlock()

	if fast {
		select {
		case jobs <- job{cmd: cmd, payload: payload, fast: true}:
		default:
			a.logger.Warn("job queue full, dropping fast command", zap.String("device", a.Name()), zap.String("command", string(cmd)))
		}
		return OK, nil
	}

	reply := make(chan Response, 1)
	select {
	case jobs <- job{cmd: cmd, payload: payload, reply: reply}:
	default:
		return DeviceNotConnected, ErrNotConnected
	}
	return <-reply, nil
}
