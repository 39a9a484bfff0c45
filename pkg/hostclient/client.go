// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hostclient drives a flare node over its line protocol from the
// host side: it builds task lines, tracks rolling command ids, waits for the
// node's replies and collects acknowledgement beacons reported during checks.
package hostclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flare/internal/groutine"
	"github.com/Thermoquad/flare/pkg/advpayload"
)

const (
	// DefaultReplyTimeout bounds the wait for a node reply
	DefaultReplyTimeout = 500 * time.Millisecond

	// CheckCommandDelay is the delay used for the CHECK receiver command
	CheckCommandDelay = 600 * time.Millisecond

	// DefaultScanDuration matches the node's check window
	DefaultScanDuration = 2 * time.Second

	lineBacklog = 64
)

var (
	// ErrTimeout is returned when the node does not reply in time
	ErrTimeout = errors.New("timed out waiting for node")

	// ErrRejected is returned when the node answers with a NAK
	ErrRejected = errors.New("node rejected request")

	// ErrClosed is returned once the connection has been closed
	ErrClosed = errors.New("connection closed")
)

// Config configures a Client. Zero fields take defaults.
type Config struct {
	ReplyTimeout time.Duration
	Now          func() time.Time
	Logger       *logrus.Logger
}

// Request is one receiver command to broadcast.
type Request struct {
	Command uint8
	Delay   time.Duration
	Prep    time.Duration
	Targets []int
	Data    [3]byte
}

// Result describes an accepted request.
type Result struct {
	CommandID   int
	CommandType uint8
	TargetMask  uint64
	Timing      Timing
}

// Found is a receiver reported by an acknowledgement beacon.
type Found struct {
	TargetID    int    `json:"target_id"`
	CommandID   int    `json:"cmd_id"`
	CommandType int    `json:"cmd_type"`
	TargetDelay uint32 `json:"target_delay"`
	State       string `json:"state"`
}

// Report is the outcome of a check.
type Report struct {
	ScanDuration time.Duration `json:"-"`
	Found        []Found       `json:"found_devices"`
}

// Client talks to one node over rw.
type Client struct {
	w       io.Writer
	lines   chan string
	alloc   *SlotAllocator
	timeout time.Duration
	log     *logrus.Logger

	mu      sync.Mutex
	found   []Found
	readErr error
}

// New starts reading node output from rw.
func New(ctx context.Context, rw io.ReadWriter, cfg Config) *Client {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	c := &Client{
		w:       rw,
		lines:   make(chan string, lineBacklog),
		alloc:   NewSlotAllocator(cfg.Now),
		timeout: cfg.ReplyTimeout,
		log:     cfg.Logger,
	}
	groutine.Go(ctx, nil, "hostclient-reader", func(ctx context.Context) {
		c.readLoop(ctx, rw)
	})
	return c
}

func (c *Client) readLoop(ctx context.Context, r io.Reader) {
	defer close(c.lines)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case c.lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}

	c.mu.Lock()
	c.readErr = scanner.Err()
	c.mu.Unlock()
}

// next returns the next line or an error once deadline passes
func (c *Client) next(ctx context.Context, deadline <-chan time.Time) (Response, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			if err != nil {
				return Response{}, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return Response{}, ErrClosed
		}
		resp := ParseResponse(line)
		c.observe(resp)
		return resp, nil
	case <-deadline:
		return Response{}, ErrTimeout
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// observe records FOUND lines whatever else is being waited for
func (c *Client) observe(resp Response) {
	switch resp.Kind {
	case RespFound:
		f := Found{
			TargetID:    int(resp.Ack.TargetID),
			CommandID:   int(resp.Ack.CommandID),
			CommandType: int(resp.Ack.CommandType),
			TargetDelay: resp.Ack.Delay,
			State:       advpayload.StateName(resp.Ack.State),
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, seen := range c.found {
			if seen == f {
				return
			}
		}
		c.found = append(c.found, f)
	case RespOther:
		if resp.Line != "" {
			c.log.WithField("line", resp.Line).Debug("Unrecognised node output")
		}
	}
}

// SendTask allocates a command id and writes the task line, then waits for
// ACK:OK followed by DONE.
func (c *Client) SendTask(ctx context.Context, req Request) (Result, error) {
	slot, err := c.alloc.Allocate(req.Delay)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		CommandID:   slot,
		CommandType: CommandType(slot, req.Command),
		TargetMask:  TargetMask(req.Targets),
	}
	line := fmt.Sprintf("%d,%d,%d,%x,%d,%d,%d\n",
		res.CommandType, req.Delay.Microseconds(), req.Prep.Microseconds(), res.TargetMask,
		req.Data[0], req.Data[1], req.Data[2])

	c.log.WithField("line", line[:len(line)-1]).Info("Sending")
	if _, err := io.WriteString(c.w, line); err != nil {
		c.alloc.Release(slot)
		return Result{}, fmt.Errorf("write: %w", err)
	}

	deadline := time.After(c.timeout)
	acked := false
	for {
		resp, err := c.next(ctx, deadline)
		if err != nil {
			return res, err
		}
		switch resp.Kind {
		case RespAckOK:
			acked = true
			res.Timing = resp.Timing
		case RespDone:
			if acked {
				return res, nil
			}
		case RespNak:
			return res, fmt.Errorf("%w: %s", ErrRejected, resp.Reason)
		}
	}
}

// TriggerCheck broadcasts the CHECK receiver command to targets and clears
// previously collected beacons.
func (c *Client) TriggerCheck(ctx context.Context, targets []int) (Result, error) {
	res, err := c.SendTask(ctx, Request{
		Command: CmdCheck,
		Delay:   CheckCommandDelay,
		Targets: targets,
	})
	if err != nil {
		return res, err
	}

	c.mu.Lock()
	c.found = nil
	c.mu.Unlock()
	return res, nil
}

// StartScan asks the node to scan for acknowledgement beacons.
func (c *Client) StartScan(ctx context.Context) error {
	if _, err := io.WriteString(c.w, "CHECK\n"); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	deadline := time.After(c.timeout)
	for {
		resp, err := c.next(ctx, deadline)
		if err != nil {
			return err
		}
		switch resp.Kind {
		case RespAckCheckStart:
			return nil
		case RespNak:
			return fmt.Errorf("%w: %s", ErrRejected, resp.Reason)
		}
	}
}

// Report collects beacons until the node reports CHECK_DONE or wait
// elapses, and returns every distinct receiver seen since the last
// TriggerCheck.
func (c *Client) Report(ctx context.Context, wait time.Duration) (Report, error) {
	deadline := time.After(wait)
loop:
	for {
		resp, err := c.next(ctx, deadline)
		switch {
		case errors.Is(err, ErrTimeout):
			break loop
		case err != nil:
			return Report{}, err
		case resp.Kind == RespCheckDone:
			break loop
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	found := make([]Found, len(c.found))
	copy(found, c.found)
	return Report{ScanDuration: DefaultScanDuration, Found: found}, nil
}

// Found returns the receivers collected so far
func (c *Client) Found() []Found {
	c.mu.Lock()
	defer c.mu.Unlock()
	found := make([]Found, len(c.found))
	copy(found, c.found)
	return found
}
