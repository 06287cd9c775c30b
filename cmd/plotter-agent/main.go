package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/linjuya-lu/device_plotter_go/internal/agent"
	"github.com/linjuya-lu/device_plotter_go/internal/driver"
)

func main() {
	cfgPath := flag.String("config", driver.DefaultConfigPath, "path to configuration.yaml")
	logLevel := flag.String("log-level", "INFO", "TRACE, DEBUG, INFO, WARN or ERROR")
	flag.Parse()

	if err := agent.RunPlotterAgent(*cfgPath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "plotter-agent: %v\n", err)
		os.Exit(1)
	}
}
