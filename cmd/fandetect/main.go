// Command fandetect listens to a microphone, decodes acoustic beep
// sequences played by the printer's piezo buzzer, and forwards decoded
// fan-speed duty cycles to the Controller over HTTP (spec §4.3).
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
	"github.com/spf13/pflag"

	"github.com/DrLex0/MightyVariableFan/internal/detectlog"
	"github.com/DrLex0/MightyVariableFan/internal/detector"
	"github.com/DrLex0/MightyVariableFan/internal/fanconfig"
	"github.com/DrLex0/MightyVariableFan/internal/fanhttp"
)

func main() {
	var configFile = pflag.StringP("config-file", "c", "", "Optional YAML configuration file (defaults as per spec §4.4).")
	var device = pflag.IntP("device", "i", -1, "PortAudio input device index. -1 uses the host default.")
	var listDevices = pflag.BoolP("list-devices", "l", false, "List PortAudio input devices and exit.")
	var calibrate = pflag.BoolP("calibrate", "C", false, "Run in calibration mode: report suggested sig-scales/sensitivity and exit.")
	var calibrateSeconds = pflag.Float64P("calibrate-seconds", "s", 20.0, "Duration to record in calibration mode.")
	var controllerHost = pflag.StringP("controller-host", "H", "localhost", "Controller hostname or IP.")
	var controllerPort = pflag.IntP("controller-port", "p", 8080, "Controller HTTP port.")
	var workers = pflag.IntP("workers", "w", 4, "Number of concurrent HTTP dispatch workers.")
	var logDir = pflag.StringP("log-dir", "L", "", "Directory (or file, with --single-log-file) to write detection events to. Empty disables logging.")
	var singleLogFile = pflag.BoolP("single-log-file", "S", false, "Treat --log-dir as a single append-only file rather than a daily-rotated directory.")
	var debug = pflag.BoolP("debug", "d", false, "Enable debug logging.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - decode acoustic fan-speed commands from a microphone and forward them to the Controller.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nUsage: fandetect [options]\n\n")
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

	if err := portaudio.Initialize(); err != nil {
		log.Fatal("initializing PortAudio", "err", err)
	}
	defer portaudio.Terminate()

	if *listDevices {
		printDevices()
		return
	}

	inputDevice, err := selectInputDevice(*device)
	if err != nil {
		log.Fatal("selecting input device", "err", err)
	}
	log.Info("using input device", "name", inputDevice.Name)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDevice,
			Channels: 1,
			Latency:  inputDevice.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SamplingRate),
		FramesPerBuffer: cfg.FrameSize,
	}

	buf := make([]int16, cfg.FrameSize)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		log.Fatal("opening audio stream", "err", err)
	}
	if err := stream.Start(); err != nil {
		log.Fatal("starting audio stream", "err", err)
	}

	if *calibrate {
		runCalibration(cfg, &stream, params, buf, *calibrateSeconds)
	} else {
		runDetection(cfg, &stream, params, buf, *controllerHost, *controllerPort, *workers, *logDir, *singleLogFile)
	}

	stream.Stop()
	stream.Close()
}

// readFrame reads one frame into buf. If the read fails, it attempts a
// single reopen of the stream (closing the faulted one and opening a
// fresh one with the same parameters) before giving up; the caller
// treats a non-nil error as "drop this frame and continue", not fatal
// (spec §4.3 step 1, §5 "Failure handling").
func readFrame(stream **portaudio.Stream, params portaudio.StreamParameters, buf []int16) error {
	err := (*stream).Read()
	if err == nil {
		return nil
	}
	log.Warn("audio stream read failed, attempting to reopen", "err", err)

	(*stream).Close()
	newStream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return fmt.Errorf("reopening audio stream: %w", err)
	}
	if err := newStream.Start(); err != nil {
		newStream.Close()
		return fmt.Errorf("restarting reopened audio stream: %w", err)
	}
	*stream = newStream
	return newStream.Read()
}

func printDevices() {
	devices, err := portaudio.Devices()
	if err != nil {
		log.Fatal("listing devices", "err", err)
	}
	for i, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		fmt.Printf("%2d: %s (%d input channel(s), default rate %.0f Hz)\n", i, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
}

func selectInputDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if index >= len(devices) {
		return nil, fmt.Errorf("device index %d out of range (%d devices found)", index, len(devices))
	}
	return devices[index], nil
}

func runCalibration(cfg fanconfig.Config, stream **portaudio.Stream, params portaudio.StreamParameters, buf []int16, seconds float64) {
	cal := detector.NewCalibrator(cfg)
	frames := int(seconds * cfg.FrameRate())
	log.Info("recording calibration audio", "seconds", seconds, "frames", frames)

	for i := 0; i < frames; i++ {
		if err := readFrame(stream, params, buf); err != nil {
			log.Warn("dropping audio frame", "err", err)
			continue
		}
		cal.ProcessFrame(buf)
	}

	res := cal.Result()
	log.Info("calibration complete",
		"chunks_recorded", res.ChunksRecorded,
		"clipped", res.Clipped,
		"silent_frames", res.SilentFrames)
	if res.IncompleteBins {
		log.Warn("one or more signal tones produced no detections; check SigBins and try again")
		return
	}

	fmt.Printf("Suggested sig_scales: %v\n", res.SuggestedSigScales)
	fmt.Printf("Suggested sensitivity: %.3f\n", res.SuggestedSensitivity)
	for i, warn := range res.NoSignalWarning {
		if warn {
			fmt.Printf("Tone %d: no signal detected at its configured bin.\n", i)
			continue
		}
		if res.BetterNeighbour[i] != 0 {
			fmt.Printf("Tone %d: neighbouring bin %d responded more strongly than the configured bin.\n", i, res.BetterNeighbour[i])
		}
	}
}

func runDetection(cfg fanconfig.Config, stream **portaudio.Stream, params portaudio.StreamParameters, buf []int16, controllerHost string, controllerPort, workers int, logDir string, singleLogFile bool) {
	client := fanhttp.New(controllerHost, controllerPort, 5*time.Second)
	if err := client.Enable(); err != nil {
		log.Warn("could not reach Controller at startup", "err", err)
	}

	dispatcher := detector.NewDispatcher(client, workers)
	defer dispatcher.Close()

	logger, err := detectlog.New(!singleLogFile, logDir)
	if err != nil {
		log.Fatal("opening detection log", "err", err)
	}
	defer logger.Close()

	pipeline := detector.NewPipeline(cfg)
	log.Info("listening for beep sequences", "frame_rate_hz", cfg.FrameRate())

	for {
		if err := readFrame(stream, params, buf); err != nil {
			log.Warn("dropping audio frame", "err", err)
			continue
		}

		duty, detected := pipeline.ProcessFrame(buf)
		if !detected {
			continue
		}

		seq := pipeline.LastSequence()
		dispatcher.SetDuty(duty)
		dispatchErr := dispatcher.LastError()

		log.Info("decoded fan duty", "duty_percent", duty, "sequence", formatSequence(seq))
		if logErr := logger.WriteEvent(time.Now(), duty, formatSequence(seq), cfg.LeadTime, dispatchErr); logErr != nil {
			log.Warn("writing detection log entry", "err", logErr)
		}
	}
}

func formatSequence(seq []int) string {
	digits := make([]string, len(seq))
	for i, d := range seq {
		digits[i] = strconv.Itoa(d)
	}
	return strings.Join(digits, "")
}
