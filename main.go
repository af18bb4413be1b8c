// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// heatpumpmon - LWZ Heat Pump Monitor
//
// A CLI tool and daemon that polls LWZ heat pump controllers over their
// read-only serial protocol and hands the decoded values to storage,
// metrics and alerting.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/heatpumpmon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
