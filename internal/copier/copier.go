// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package copier runs the external copy command in the background
package copier

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// ErrBusy is returned by Start while the previous run is still alive
var ErrBusy = errors.New("copy command still running")

// Copier runs one shell command at a time
type Copier struct {
	command string
	log     zerolog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// New creates a copier for command, run through "sh -c"
func New(command string, log zerolog.Logger) *Copier {
	return &Copier{command: command, log: log}
}

// Start launches the command and returns immediately. Output lines are
// logged as they arrive; a non-zero exit is logged as an error.
func (c *Copier) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrBusy
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", c.command)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return err
	}

	c.running = true
	c.done = make(chan struct{})
	done := c.done

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			c.log.Info().Str("line", scanner.Text()).Msg("external")
		}
		io.Copy(io.Discard, pr)
	}()

	go func() {
		err := cmd.Wait()
		pw.Close()
		<-scanned

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				c.log.Error().Int("code", exitErr.ExitCode()).Str("command", c.command).Msg("Copy command failed")
			} else {
				c.log.Error().Err(err).Str("command", c.command).Msg("Copy command failed")
			}
		}

		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(done)
	}()
	return nil
}

// Running reports whether a run is in progress
func (c *Copier) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Wait blocks until the current run, if any, has finished
func (c *Copier) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}
