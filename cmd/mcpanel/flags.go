package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags select the daemon a client command talks to.
type APIFlags struct {
	APIUrl     string
	APIToken   string
	APITimeout time.Duration
	Insecure   bool
	CACert     string
	JSON       bool // print raw JSON instead of a table
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

type StopFlags struct {
	Force bool
}

type ConsoleFlags struct {
	Follow bool
}

type EventsFlags struct {
	Limit int
}

// ScheduleFlags describe a schedule created with "schedules add".
type ScheduleFlags struct {
	Name     string
	Type     string
	Cron     string
	Command  string
	Message  string
	Disabled bool
}
