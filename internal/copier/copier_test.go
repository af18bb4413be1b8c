// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package copier

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_LogsOutput(t *testing.T) {
	var buf bytes.Buffer
	c := New("echo first; echo second >&2", zerolog.New(&buf))

	require.NoError(t, c.Start(context.Background()))
	c.Wait()

	out := buf.String()
	assert.Contains(t, out, `"line":"first"`)
	assert.Contains(t, out, `"line":"second"`)
	assert.NotContains(t, out, "Copy command failed")
	assert.False(t, c.Running())
}

func TestStart_LogsExitCode(t *testing.T) {
	var buf bytes.Buffer
	c := New("exit 3", zerolog.New(&buf))

	require.NoError(t, c.Start(context.Background()))
	c.Wait()

	assert.Contains(t, buf.String(), `"code":3`)
	assert.Contains(t, buf.String(), "Copy command failed")
}

func TestStart_RefusesWhileRunning(t *testing.T) {
	c := New("sleep 0.3", zerolog.Nop())

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Running())
	assert.ErrorIs(t, c.Start(context.Background()), ErrBusy)

	c.Wait()
	assert.False(t, c.Running())
	require.NoError(t, c.Start(context.Background()))
	c.Wait()
}

func TestWait_WithoutRun(t *testing.T) {
	c := New("true", zerolog.Nop())
	c.Wait()
	assert.False(t, c.Running())
}
