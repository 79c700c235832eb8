package main

import "time"

const (
	defaultAPIUrl     = "http://127.0.0.1:8080"
	defaultAPITimeout = 10 * time.Second
)

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	ConfigPath  string
	APIUrl      string
	APITimeout  time.Duration
	APICACert   string
	APIInsecure bool
}

type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

type StartFlags struct {
	Executable string
	Params     []string // key=value
	ConfigFile string
	ConfigJSON string
}

type StopFlags struct {
	Signal int
}
