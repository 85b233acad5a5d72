package bootloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/moffa90/go-qbmidi/ihex"
	"github.com/moffa90/go-qbmidi/internal/wait"
	"github.com/moffa90/go-qbmidi/link"
	"github.com/moffa90/go-qbmidi/protocol"
	"github.com/moffa90/go-qbmidi/transport"
)

// Identifier is the subset of *link.Identifier used by the programmer.
type Identifier interface {
	Echo(ctx context.Context, input, output transport.Port) (bool, error)
	ReadBootloader(ctx context.Context, input, output transport.Port) (bool, error)
	Identify(ctx context.Context, l *link.Link) error
}

// Programmer drives links between running and bootloader mode and uploads
// firmware to them.
//
// Programmer is safe for concurrent use on different links. Operations
// on one link are serialized through the link state.
type Programmer struct {
	transport  transport.Transport
	identifier Identifier
	config     Config
}

// New creates a new Programmer using tr for port access and id for mode
// confirmation.
//
// Example:
//
//	sim := simulator.New()
//	prog := bootloader.New(sim, link.NewIdentifier(sim),
//	    bootloader.WithProgressCallback(progressFunc),
//	    bootloader.WithSettleDelay(3*time.Second),
//	)
func New(tr transport.Transport, id Identifier, opts ...Option) *Programmer {
	if tr == nil {
		panic("transport cannot be nil")
	}
	if id == nil {
		panic("identifier cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Programmer{
		transport:  tr,
		identifier: id,
		config:     cfg,
	}
}

// EnterBootloader commands the device into bootloader mode and confirms
// the transition. The command is always sent since bootloader detection is
// unreliable.
func (p *Programmer) EnterBootloader(ctx context.Context, l *link.Link) error {
	if !l.TryBegin(link.StateEnteringBootloader) {
		return fmt.Errorf("enter bootloader on link %d: %w", l.RuntimeID(), ErrLinkBusy)
	}
	defer l.End()

	return p.enter(ctx, l)
}

// ExitBootloader leaves bootloader mode if the device is in it, then
// re-identifies the link.
func (p *Programmer) ExitBootloader(ctx context.Context, l *link.Link) error {
	if !l.TryBegin(link.StateExitingBootloader) {
		return fmt.Errorf("exit bootloader on link %d: %w", l.RuntimeID(), ErrLinkBusy)
	}
	defer l.End()

	return p.exit(ctx, l, false)
}

// Upload parses a textual Intel HEX image and programs it.
//
// Example:
//
//	err := prog.Upload(ctx, l, hexText)
func (p *Programmer) Upload(ctx context.Context, l *link.Link, image string) error {
	img, err := ihex.ParseString(image)
	if err != nil {
		return fmt.Errorf("parse firmware: %w", err)
	}
	return p.UploadImage(ctx, l, img)
}

// UploadImage performs the complete upload sequence:
//  1. Enter bootloader mode
//  2. Flatten the image from ProgramAddress and pad it to PageSize
//  3. Stream it with StartFirmware and Data frames, retrying the whole
//     stream on failure
//  4. Exit bootloader mode
//  5. Identify the link
//
// The operation can be cancelled via context.
func (p *Programmer) UploadImage(ctx context.Context, l *link.Link, img *ihex.Image) error {
	if img == nil {
		return fmt.Errorf("firmware cannot be nil")
	}
	if !l.TryBegin(link.StateUploading) {
		return fmt.Errorf("upload to link %d: %w", l.RuntimeID(), ErrLinkBusy)
	}
	defer l.End()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled: %w", err)
	}

	start := time.Now()
	log := p.config.Logger.With().Uint64("link_runtime_id", l.RuntimeID()).Logger()

	flat, err := img.Bytes(protocol.ProgramAddress, protocol.MaxProgramSize)
	if err != nil {
		return fmt.Errorf("flatten firmware: %w", err)
	}
	data := ihex.Pad(flat, protocol.PageSize)
	if len(data) == 0 {
		return fmt.Errorf("firmware has no data")
	}

	// Phase 1: Enter bootloader
	p.reportProgress(Progress{Phase: PhaseEntering, TotalBytes: len(data)})
	if err := p.enter(ctx, l); err != nil {
		return fmt.Errorf("enter bootloader: %w", err)
	}

	// Phase 2: Transfer
	attempt := 0
	_, err = backoff.Retry(ctx,
		func() (struct{}, error) {
			attempt++
			if err := p.transfer(ctx, l, data, attempt, start); err != nil {
				if ctx.Err() != nil {
					return struct{}{}, backoff.Permanent(ctx.Err())
				}
				log.Warn().Err(err).Int("attempt", attempt).Msg("transfer attempt failed")
				return struct{}{}, err
			}
			return struct{}{}, nil
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.config.TransferBackoff)),
		backoff.WithMaxTries(uint(p.config.TransferAttempts)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("cancelled: %w", ctx.Err())
		}
		return &TransferError{Attempts: attempt, Err: err}
	}

	// Phase 3: Exit bootloader
	p.reportProgress(Progress{
		Phase:        PhaseExiting,
		BytesWritten: len(data),
		TotalBytes:   len(data),
		Percentage:   95,
		ElapsedTime:  time.Since(start),
	})
	if err := p.exit(ctx, l, true); err != nil {
		return fmt.Errorf("exit bootloader: %w", err)
	}

	p.reportProgress(Progress{
		Phase:        PhaseComplete,
		BytesWritten: len(data),
		TotalBytes:   len(data),
		Percentage:   100,
		ElapsedTime:  time.Since(start),
	})

	log.Info().
		Int("bytes", len(data)).
		Int("attempts", attempt).
		Str("uuid", l.UUID()).
		Dur("elapsed", time.Since(start)).
		Msg("upload complete")

	return nil
}

// transfer streams data once, two bytes per Data frame.
func (p *Programmer) transfer(ctx context.Context, l *link.Link, data []byte, attempt int, start time.Time) error {
	out := l.Output()

	p.echoCheck(ctx, l, "before transfer")

	if err := transport.SendMessage(p.transport, out, protocol.CmdStartFirmware, 0, 0); err != nil {
		return err
	}

	for i := 0; i < len(data); i += 2 {
		if err := ctx.Err(); err != nil {
			return err
		}

		b2 := byte(0xFF)
		if i+1 < len(data) {
			b2 = data[i+1]
		}
		if err := transport.SendMessage(p.transport, out, protocol.CmdData, data[i], b2); err != nil {
			return fmt.Errorf("send data at offset %d: %w", i, err)
		}

		written := i + 2
		if p.config.PaceEvery > 0 && written/p.config.PaceEvery > i/p.config.PaceEvery {
			if err := wait.Sleep(ctx, p.config.PaceDelay); err != nil {
				return err
			}
			p.reportProgress(Progress{
				Phase:        PhaseProgramming,
				Attempt:      attempt,
				BytesWritten: written,
				TotalBytes:   len(data),
				Percentage:   5 + 85*float64(written)/float64(len(data)),
				ElapsedTime:  time.Since(start),
			})
		}
	}

	if err := wait.Sleep(ctx, p.config.ConfirmDelay); err != nil {
		return err
	}

	p.reportProgress(Progress{
		Phase:        PhaseProgramming,
		Attempt:      attempt,
		BytesWritten: len(data),
		TotalBytes:   len(data),
		Percentage:   90,
		ElapsedTime:  time.Since(start),
	})

	p.echoCheck(ctx, l, "after transfer")
	return nil
}

// echoCheck logs whether the link answers an echo. Echo is unreliable in
// bootloader mode on some hosts, so the result is never fatal.
func (p *Programmer) echoCheck(ctx context.Context, l *link.Link, when string) {
	in, out := l.Ports()
	ok, err := p.identifier.Echo(ctx, in, out)
	p.config.Logger.Debug().
		Err(err).
		Uint64("link_runtime_id", l.RuntimeID()).
		Bool("echo", ok).
		Msg("echo test " + when)
}

func (p *Programmer) enter(ctx context.Context, l *link.Link) error {
	p.config.Logger.Debug().Uint64("link_runtime_id", l.RuntimeID()).Msg("entering bootloader mode")

	if err := p.reconnect(ctx, l, protocol.CmdEnterBootloader); err != nil {
		return err
	}

	in, out := l.Ports()
	bootloader, err := p.identifier.ReadBootloader(ctx, in, out)
	if err != nil {
		return fmt.Errorf("confirm bootloader mode: %w", err)
	}
	if !bootloader {
		l.SetMode(link.ModeRunning)
		return &ConfirmationError{RuntimeID: l.RuntimeID(), Requested: link.ModeBootloader, Observed: link.ModeRunning}
	}

	l.SetIdentity(l.UUID(), true, time.Now())
	return nil
}

// exit leaves bootloader mode. Without force the command is skipped when
// the device already reports running mode.
func (p *Programmer) exit(ctx context.Context, l *link.Link, force bool) error {
	if !force {
		in, out := l.Ports()
		bootloader, err := p.identifier.ReadBootloader(ctx, in, out)
		if err != nil {
			return fmt.Errorf("read bootloader status: %w", err)
		}
		if !bootloader {
			p.config.Logger.Debug().Uint64("link_runtime_id", l.RuntimeID()).Msg("not in bootloader mode, exit skipped")
			return p.identify(ctx, l)
		}
	}

	p.config.Logger.Debug().Uint64("link_runtime_id", l.RuntimeID()).Msg("exiting bootloader mode")

	if err := p.reconnect(ctx, l, protocol.CmdExitBootloader); err != nil {
		return err
	}

	if err := wait.Sleep(ctx, p.config.SettleDelay); err != nil {
		return err
	}

	in, out := l.Ports()
	bootloader, err := p.identifier.ReadBootloader(ctx, in, out)
	if err != nil {
		return fmt.Errorf("confirm running mode: %w", err)
	}
	if bootloader {
		l.SetMode(link.ModeBootloader)
		return &ConfirmationError{RuntimeID: l.RuntimeID(), Requested: link.ModeRunning, Observed: link.ModeBootloader}
	}

	return p.identify(ctx, l)
}

func (p *Programmer) identify(ctx context.Context, l *link.Link) error {
	p.reportProgress(Progress{Phase: PhaseIdentifying, Percentage: 97})
	if err := p.identifier.Identify(ctx, l); err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	return nil
}

// reconnect sends a mode change command, closes the link ports and waits
// for the device to re-enumerate. When the wait runs out the old ports are
// kept.
func (p *Programmer) reconnect(ctx context.Context, l *link.Link, cmd protocol.Command) error {
	in, out := l.Ports()
	log := p.config.Logger.With().Uint64("link_runtime_id", l.RuntimeID()).Str("command", cmd.String()).Logger()

	lastIn, lastOut, err := p.validPorts()
	if err != nil {
		return err
	}

	if err := transport.SendMessage(p.transport, out, cmd, 0, 0); err != nil {
		return err
	}

	if err := p.transport.Close(in); err != nil {
		log.Debug().Err(err).Str("port", in.ID).Msg("close failed")
	}
	if err := p.transport.Close(out); err != nil {
		log.Debug().Err(err).Str("port", out.ID).Msg("close failed")
	}

	newIn, newOut := in, out
	if err := p.waitDisappear(ctx, in); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("using previous ports")
	} else {
		newIn, newOut, err = p.waitAppear(ctx, in, lastIn, lastOut)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("using previous ports")
			newIn, newOut = in, out
		}
	}

	if err := p.transport.Open(newIn); err != nil {
		return fmt.Errorf("reopen input: %w", err)
	}
	if err := p.transport.Open(newOut); err != nil {
		return fmt.Errorf("reopen output: %w", err)
	}
	l.SetPorts(newIn, newOut)

	log.Debug().Str("input", newIn.ID).Str("output", newOut.ID).Msg("reconnected")
	return nil
}

var errStillThere = errors.New("port still enumerated")

func (p *Programmer) waitDisappear(ctx context.Context, in transport.Port) error {
	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			inputs, err := p.config.Filter.ValidInputs(p.transport)
			if err != nil {
				return struct{}{}, err
			}
			if transport.Contains(inputs, in.ID) {
				return struct{}{}, errStillThere
			}
			return struct{}{}, nil
		},
		p.reconnectOptions()...,
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ConnectionError{Port: in.ID, Attempts: p.config.ReconnectAttempts}
	}
	return nil
}

type portPair struct{ in, out transport.Port }

var errNotYet = errors.New("ports not enumerated yet")

// waitAppear waits for an input and an output absent from the last-seen
// sets. A port sharing the old version is preferred when several appear.
func (p *Programmer) waitAppear(ctx context.Context, old transport.Port, lastIn, lastOut []transport.Port) (transport.Port, transport.Port, error) {
	pair, err := backoff.Retry(ctx,
		func() (portPair, error) {
			inputs, outputs, err := p.validPorts()
			if err != nil {
				return portPair{}, err
			}
			in, okIn := pick(transport.Diff(inputs, lastIn), old.Version)
			out, okOut := pick(transport.Diff(outputs, lastOut), old.Version)
			if !okIn || !okOut {
				return portPair{}, errNotYet
			}
			return portPair{in, out}, nil
		},
		p.reconnectOptions()...,
	)
	if err != nil {
		if ctx.Err() != nil {
			return transport.Port{}, transport.Port{}, ctx.Err()
		}
		return transport.Port{}, transport.Port{}, &ConnectionError{Appear: true, Attempts: p.config.ReconnectAttempts}
	}
	return pair.in, pair.out, nil
}

func pick(ports []transport.Port, version string) (transport.Port, bool) {
	if len(ports) == 0 {
		return transport.Port{}, false
	}
	for _, port := range ports {
		if version != "" && port.Version == version {
			return port, true
		}
	}
	return ports[0], true
}

func (p *Programmer) reconnectOptions() []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.config.ReconnectDelay)),
		backoff.WithMaxTries(uint(p.config.ReconnectAttempts)),
	}
}

func (p *Programmer) validPorts() (inputs, outputs []transport.Port, err error) {
	inputs, err = p.config.Filter.ValidInputs(p.transport)
	if err != nil {
		return nil, nil, fmt.Errorf("list inputs: %w", err)
	}
	outputs, err = p.config.Filter.ValidOutputs(p.transport)
	if err != nil {
		return nil, nil, fmt.Errorf("list outputs: %w", err)
	}
	return inputs, outputs, nil
}

// reportProgress calls the progress callback if configured.
func (p *Programmer) reportProgress(progress Progress) {
	if p.config.ProgressCallback != nil {
		p.config.ProgressCallback(progress)
	}
}
