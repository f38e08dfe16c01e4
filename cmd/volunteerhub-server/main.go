package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
)

var (
	app = kingpin.New("volunteerhub-server", "Workflow automation for volunteer organisations")

	runCmd = app.Command("run", "Start the API server and the workflow scheduler").Default()

	nextRunCmd      = app.Command("next-run", "Print the upcoming fire times of a workflow file")
	nextRunFile     = nextRunCmd.Flag("file", "Workflow YAML file").Short('f').Required().ExistingFile()
	nextRunCount    = nextRunCmd.Flag("count", "Fire times to print per trigger").Default("5").Int()
	nextRunTimezone = nextRunCmd.Flag("timezone", "Zone the triggers are evaluated in").Default("UTC").String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	var err error
	switch command {
	case runCmd.FullCommand():
		err = run()
	case nextRunCmd.FullCommand():
		err = printNextRuns(os.Stdout, *nextRunFile, *nextRunTimezone, *nextRunCount)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
