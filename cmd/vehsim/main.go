package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/san-kum/vehsim/internal/logging"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	serverAddr string
	dataDir    string

	// serve
	modelRef     string
	listenAddr   string
	overlayPath  string
	trackPath    string
	modelDirs    []string
	dt           float64
	runSpeed     float64
	controlMode  string
	periodTicks  int
	delayTicks   int
	metricsOn    bool
	preset       string
	startRunning bool

	// admin
	stepCount int
	poseYaw   float64

	// record and plot
	recordTicks int
	recordModel string
	plotColumn  string
	plotWidth   int
	svgPath     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "vehsim",
		Short:        "real-time vehicle dynamics simulator",
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	pf.StringVar(&serverAddr, "addr", "127.0.0.1:5555", "address of a running simulator")
	pf.StringVar(&dataDir, "data", "runs", "directory holding recorded runs")

	rootCmd.AddCommand(
		newServeCmd(),
		newModelsCmd(),
		newPresetsCmd(),
		newAdminCmd(),
		newRecordCmd(),
		newRunsCmd(),
		newPlotCmd(),
		newExportCmd(),
		newSummaryCmd(),
		newWatchCmd(),
		newDriveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// cliLogger is the logger of the client-side commands.
func cliLogger() zerolog.Logger {
	return logging.New(logging.Config{Level: logLevel, Format: logFormat}, os.Stderr)
}
