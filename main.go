// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/poi295/camellones/cmd"
)

var Version = "development"

func main() {
	cmd.Execute(Version)
}
