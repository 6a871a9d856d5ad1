// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/lib/config"
	"github.com/bureau-foundation/conveyor/lib/service"
)

// callTimeout bounds socket calls that do not wait on scheduling.
const callTimeout = 30 * time.Second

// connection holds the flags that locate the control socket.
type connection struct {
	socket     string
	configFile string
}

func (c *connection) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.socket, "socket", "", "control socket path (default: $CONVEYOR_SOCKET, then the config file's socket.path)")
	flagSet.StringVar(&c.configFile, "config", "", "server config file to read socket.path from (default: $CONVEYOR_CONFIG)")
}

// socketPath resolves the control socket path.
func (c *connection) socketPath() (string, error) {
	if c.socket != "" {
		return c.socket, nil
	}
	if path := os.Getenv("CONVEYOR_SOCKET"); path != "" {
		return path, nil
	}
	configFile := c.configFile
	if configFile == "" {
		configFile = os.Getenv("CONVEYOR_CONFIG")
	}
	if configFile != "" {
		cfg, err := config.LoadFile(configFile)
		if err != nil {
			return "", err
		}
		return cfg.Socket.Path, nil
	}
	return config.DefaultSocketPath(), nil
}

func (c *connection) client() (*service.Client, error) {
	path, err := c.socketPath()
	if err != nil {
		return nil, err
	}
	return service.NewClient(path), nil
}

// call sends one action with callTimeout applied.
func (c *connection) call(action string, request, result any) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return client.Call(ctx, action, request, result)
}
