package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/nfconsole/pkg/config"
)

type Options struct {
	ConfigFile string `short:"c" long:"config" default:"nfconsole.json" description:"Configuration file"`

	Setup       SetupCommand       `command:"setup" description:"Choose a robot and calibrate a servo pendant"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Drive the robot from the terminal"`
	Sim         SimCommand         `command:"sim" description:"Run the robot simulator server"`
	Project     ProjectCommand     `command:"project" description:"Project an anchor camera point onto the floor"`
	History     HistoryCommand     `command:"history" description:"List recorded sessions"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "nfconsole - operator console for cable-driven gantry robots"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the config file. A missing file yields the defaults.
func loadConfig() *config.Config {
	cfg, err := config.LoadConfigFrom(opts.ConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		return &config.Config{}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", opts.ConfigFile, err)
		os.Exit(1)
	}
	return cfg
}
