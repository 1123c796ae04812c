// Command fanctl is the Controller: it drives a GPIO line as a
// software PWM output and exposes /enable, /disable and /setduty over
// HTTP for the Detector to call (spec §5).
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/DrLex0/MightyVariableFan/internal/controller"
	"github.com/DrLex0/MightyVariableFan/internal/fanconfig"
)

func main() {
	var configFile = pflag.StringP("config-file", "c", "", "Optional YAML configuration file (defaults as per spec §4.4).")
	var gpioChip = pflag.StringP("gpio-chip", "g", "", "GPIO chip device name, e.g. gpiochip0. Empty uses the configured default.")
	var gpioLine = pflag.IntP("gpio-line", "n", -1, "GPIO line offset. -1 uses the configured default.")
	var pwmFrequency = pflag.Float64P("pwm-frequency", "f", 0, "Software PWM frequency in Hz. 0 uses the configured default.")
	var minDutyCycle = pflag.Float64P("min-duty-cycle", "m", -1, "Minimum non-zero duty percentage. -1 uses the configured default.")
	var manualOverride = pflag.BoolP("manual-override", "o", false, "Start in manual-override mode: ignore control requests lacking ?manual=1.")
	var port = pflag.IntP("port", "p", 0, "HTTP listen port. 0 uses the configured default.")
	var machineName = pflag.StringP("machine-name", "N", "", "Human-readable name reported in status text. Empty uses the configured default.")
	var debug = pflag.BoolP("debug", "d", false, "Enable debug logging.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - drive a fan's PWM duty cycle over GPIO, controlled via HTTP.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nUsage: fanctl [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := fanconfig.Load(*configFile)
	if err != nil {
		log.Fatal("loading configuration", "err", err)
	}

	if *gpioChip != "" {
		cfg.GPIOChip = *gpioChip
	}
	if *gpioLine >= 0 {
		cfg.GPIOLine = *gpioLine
	}
	if *pwmFrequency > 0 {
		cfg.PWMFrequency = *pwmFrequency
	}
	if *minDutyCycle >= 0 {
		cfg.PWMMinDutyCycle = *minDutyCycle
	}
	if *port > 0 {
		cfg.ControllerPort = *port
	}
	if *machineName != "" {
		cfg.MachineName = *machineName
	}
	if *manualOverride {
		cfg.ManualOverride = true
	}

	pwm, err := controller.NewPWM(cfg.GPIOChip, cfg.GPIOLine, cfg.PWMFrequency, cfg.KickLaunch, cfg.KickFactor)
	if err != nil {
		log.Fatal("initializing GPIO PWM output", "err", err)
	}
	defer pwm.Close()

	srv := controller.NewServer(pwm, cfg.PWMMinDutyCycle, cfg.ManualOverride, cfg.MachineName)

	log.Info("fan controller listening",
		"port", cfg.ControllerPort,
		"gpio_chip", cfg.GPIOChip,
		"gpio_line", cfg.GPIOLine,
		"manual_override", cfg.ManualOverride)

	addr := fmt.Sprintf(":%d", cfg.ControllerPort)
	if err := http.ListenAndServe(addr, srv.Routes()); err != nil { //nolint:gosec
		log.Fatal("serving HTTP", "err", err)
	}
}
