// Copyright (c) 2025 KactLabs
// SPDX-License-Identifier: MIT

// Package config loads shared client defaults from a TOML file.
//
// A configuration file is optional: every field has a built-in default and
// the builders in package ollama work without one. When present, the file
// lets a deployment pin the host, models and timeouts in one place.
//
// # Configuration Precedence
//
// Values are resolved in order of precedence:
//   - Environment variables (OLLAMA_HOST, AGENTICOPTIO_*)
//   - ~/.agenticoptio/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	llm, err := cfg.NewChatClient()
package config
