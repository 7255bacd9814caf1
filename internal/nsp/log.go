// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License")
// that can be found in the LICENSE file in the root of the source
// tree.

package nsp

import (
	"os"

	"github.com/op/go-logging"
)

// log is the package-wide logger, configured the same way the teacher's
// ipfix package configures its own (ipfix_exporter_utils.go): a colored
// backend formatter gated by a verbosity flag.
var log = logging.MustGetLogger("nsp")

// ConfigureLogging sets the module's log level. Called once from cmd/nspd
// after flags are parsed.
func ConfigureLogging(verbose bool) {
	format := logging.MustStringFormatter(
		`%{color}%{time:15:04:05.000} %{shortfunc} %{level:s}%{color:reset} ▶ %{message}`,
	)
	backend := logging.NewLogBackend(os.Stderr, "[NSP] ", 0)
	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(backend, format))
	if verbose {
		leveled.SetLevel(logging.DEBUG, "")
	} else {
		leveled.SetLevel(logging.WARNING, "")
	}
	log.SetBackend(leveled)
}
