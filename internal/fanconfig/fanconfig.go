// Package fanconfig holds the configuration values shared between the
// Encoder, the Detector, and the Controller (spec §4.4). Several of
// these, notably SigScales and Sensitivity, are not meant to be
// hardcoded constants: the Detector's calibration mode produces
// suggested values for them, and operators are expected to persist
// those into a YAML file loaded at startup.
package fanconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in spec §4.4, with the documented
// defaults.
type Config struct {
	// Shared symbol/acoustic parameters.
	FrameSize      int        `yaml:"frame_size"`      // N, samples per FFT frame
	SamplingRate   int        `yaml:"sampling_rate"`   // Hz
	SigBins        [4]int     `yaml:"sig_bins"`        // FFT bin indices for the 4 signal tones
	SigFreqs       [4]int     `yaml:"sig_freqs"`       // nearest semitone the buzzer plays for each bin
	SequenceLength int        `yaml:"sequence_length"` // L
	Sensitivity    float64    `yaml:"sensitivity"`
	SigScales      [4]float64 `yaml:"sig_scales"`
	HarmonicFactor float64    `yaml:"harmonic_factor"`

	// Encoder-only.
	RampUpZMax   float64 `yaml:"ramp_up_zmax"`
	RampUpScale0 float64 `yaml:"ramp_up_scale0"`
	LeadTime     float64 `yaml:"lead_time"`
	FeedFactor   float64 `yaml:"feed_factor"`
	FeedLimitZ   float64 `yaml:"feed_limit_z"`

	// Detector-only continuous-tone guard (disabled by default, see
	// spec §4.3 and Open Questions).
	DetectContinuous bool `yaml:"detect_continuous"`
	ToneBinLower     int  `yaml:"tone_bin_lower"`
	ToneBinUpper     int  `yaml:"tone_bin_upper"`

	// Controller-only: GPIO output and software PWM/kickstart parameters,
	// ported from pwm_server.py's command-line defaults.
	GPIOChip        string  `yaml:"gpio_chip"`
	GPIOLine        int     `yaml:"gpio_line"`
	PWMFrequency    float64 `yaml:"pwm_frequency"`
	PWMMinDutyCycle float64 `yaml:"pwm_min_duty_cycle"`
	KickLaunch      float64 `yaml:"kick_launch"`
	KickFactor      float64 `yaml:"kick_factor"`
	ControllerPort  int     `yaml:"controller_port"`
	ManualOverride  bool    `yaml:"manual_override"`
	MachineName     string  `yaml:"machine_name"`
}

// Default returns the configuration with every default from spec
// §4.4 and the original implementation's SIG_SCALES.
func Default() Config {
	return Config{
		FrameSize:        1024,
		SamplingRate:     44100,
		SigBins:          [4]int{139, 151, 161, 172},
		SigFreqs:         [4]int{5988, 6452, 6944, 7407},
		SequenceLength:   3,
		Sensitivity:      20.0,
		SigScales:        [4]float64{1.0, 1.8, 2.9, 3.6},
		HarmonicFactor:   1.3,
		RampUpZMax:       4.0,
		RampUpScale0:     0.05,
		LeadTime:         1.3,
		FeedFactor:       60.0,
		FeedLimitZ:       1170.0,
		DetectContinuous: false,
		ToneBinLower:     3,
		ToneBinUpper:     174,
		GPIOChip:         "gpiochip0",
		GPIOLine:         12,
		PWMFrequency:     200.0,
		PWMMinDutyCycle:  1.0,
		KickLaunch:       0.25,
		KickFactor:       0.01,
		ControllerPort:   8080,
		ManualOverride:   false,
		MachineName:      "fan controller",
	}
}

// FrameRate returns the Detector's frame rate in Hz: SamplingRate/FrameSize.
func (c Config) FrameRate() float64 {
	return float64(c.SamplingRate) / float64(c.FrameSize)
}

// ChunkDuration returns the duration, in seconds, of a single audio frame.
func (c Config) ChunkDuration() float64 {
	return float64(c.FrameSize) / float64(c.SamplingRate)
}

// Load reads a YAML configuration file and overlays it onto Default().
// Missing fields keep their default values because yaml.Unmarshal only
// overwrites fields present in the document.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML to path, in the format Load reads back.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config %q: %w", path, err)
	}
	return nil
}
