package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"northcam/internal/perm"
)

type Config struct {
	Gate        GateConfig        `yaml:"gate"`
	Location    LocationConfig    `yaml:"location"`
	Motion      MotionConfig      `yaml:"motion"`
	Camera      CameraConfig      `yaml:"camera"`
	Library     LibraryConfig     `yaml:"library"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Web         WebConfig         `yaml:"web"`
	UDP         UDPConfig         `yaml:"udp"`
	GPIO        GPIOConfig        `yaml:"gpio"`
	Events      EventsConfig      `yaml:"events"`
	Record      RecordConfig      `yaml:"record"`
	Replay      ReplayConfig      `yaml:"replay"`
}

type GateConfig struct {
	RadiusM             float64       `yaml:"radius_m"`
	HeadingToleranceDeg float64       `yaml:"heading_tolerance_deg"`
	TiltThresholdDeg    float64       `yaml:"tilt_threshold_deg"`
	Hold                time.Duration `yaml:"hold"`
	LocationInterval    time.Duration `yaml:"location_interval"`
	SensorInterval      time.Duration `yaml:"sensor_interval"`
	MinDistanceM        float64       `yaml:"min_distance_m"`
	// StaleAfter marks a sensor unavailable when it stops reporting.
	// Zero disables the check.
	StaleAfter time.Duration `yaml:"stale_after"`
	Target     TargetConfig  `yaml:"target"`
}

type TargetConfig struct {
	Policy string  `yaml:"policy"`
	LatDeg float64 `yaml:"lat_deg"`
	LonDeg float64 `yaml:"lon_deg"`
}

type LocationConfig struct {
	Source    string        `yaml:"source"`
	GPSDAddr  string        `yaml:"gpsd_addr"`
	Device    string        `yaml:"device"`
	Baud      int           `yaml:"baud"`
	SimRadius float64       `yaml:"sim_radius_m"`
	SimPeriod time.Duration `yaml:"sim_period"`
}

type MotionConfig struct {
	Source    string        `yaml:"source"`
	I2CBus    int           `yaml:"i2c_bus"`
	I2CAddr   uint16        `yaml:"i2c_addr"`
	Device    string        `yaml:"device"`
	Baud      int           `yaml:"baud"`
	SimPeriod time.Duration `yaml:"sim_period"`
}

type CameraConfig struct {
	Source      string        `yaml:"source"`
	Command     string        `yaml:"command"`
	Args        []string      `yaml:"args"`
	ContentType string        `yaml:"content_type"`
	Timeout     time.Duration `yaml:"timeout"`
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
}

type LibraryConfig struct {
	Dir    string `yaml:"dir"`
	DBPath string `yaml:"db_path"`
}

type PermissionsConfig struct {
	Location string `yaml:"location"`
	Camera   string `yaml:"camera"`
	Storage  string `yaml:"storage"`
}

type WebConfig struct {
	Enable *bool  `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type UDPConfig struct {
	Enable      bool          `yaml:"enable"`
	Dest        string        `yaml:"dest"`
	MinInterval time.Duration `yaml:"min_interval"`
}

type GPIOConfig struct {
	Enable    bool          `yaml:"enable"`
	ButtonPin int           `yaml:"button_pin"`
	LEDPin    int           `yaml:"led_pin"`
	Debounce  time.Duration `yaml:"debounce"`
}

type EventsConfig struct {
	Enable   bool   `yaml:"enable"`
	NSQDAddr string `yaml:"nsqd_addr"`
	Topic    string `yaml:"topic"`
	Buffer   int    `yaml:"buffer"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

// WebEnabled reports whether the HTTP UI should run. It defaults to true.
func (w WebConfig) WebEnabled() bool { return w.Enable == nil || *w.Enable }

// PermissionMap converts the permission strings. Call after DefaultAndValidate.
func (p PermissionsConfig) PermissionMap() map[perm.Kind]perm.Status {
	out := map[perm.Kind]perm.Status{}
	for k, v := range map[perm.Kind]string{perm.Location: p.Location, perm.Camera: p.Camera, perm.Storage: p.Storage} {
		st, _ := perm.ParseStatus(v)
		out[k] = st
	}
	return out
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills zero values and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	g := &cfg.Gate
	if g.RadiusM == 0 {
		g.RadiusM = 50
	}
	if g.RadiusM < 0 {
		return fmt.Errorf("gate.radius_m must be > 0")
	}
	if g.HeadingToleranceDeg == 0 {
		g.HeadingToleranceDeg = 15
	}
	if g.HeadingToleranceDeg < 0 || g.HeadingToleranceDeg >= 180 {
		return fmt.Errorf("gate.heading_tolerance_deg must be in (0,180)")
	}
	if g.TiltThresholdDeg == 0 {
		g.TiltThresholdDeg = 3
	}
	if g.TiltThresholdDeg < 0 {
		return fmt.Errorf("gate.tilt_threshold_deg must be > 0")
	}
	if g.Hold == 0 {
		g.Hold = 2 * time.Second
	}
	if g.Hold < 0 {
		return fmt.Errorf("gate.hold must be >= 0")
	}
	if g.LocationInterval <= 0 {
		g.LocationInterval = 1 * time.Second
	}
	if g.SensorInterval <= 0 {
		g.SensorInterval = 150 * time.Millisecond
	}
	if g.MinDistanceM == 0 {
		g.MinDistanceM = 1
	}
	if g.StaleAfter < 0 {
		return fmt.Errorf("gate.stale_after must be >= 0")
	}

	g.Target.Policy = strings.ToLower(strings.TrimSpace(g.Target.Policy))
	switch g.Target.Policy {
	case "":
		g.Target.Policy = "fixed"
	case "fixed", "first_fix":
	default:
		return fmt.Errorf("gate.target.policy must be fixed or first_fix")
	}
	if g.Target.Policy == "fixed" && g.Target.LatDeg == 0 && g.Target.LonDeg == 0 {
		g.Target.LatDeg = 40.7128
		g.Target.LonDeg = -74.0060
	}
	if g.Target.LatDeg < -90 || g.Target.LatDeg > 90 || g.Target.LonDeg < -180 || g.Target.LonDeg > 180 {
		return fmt.Errorf("gate.target lat_deg/lon_deg out of range")
	}

	loc := &cfg.Location
	if loc.Source == "" {
		loc.Source = "gpsd"
	}
	switch loc.Source {
	case "gpsd":
		if loc.GPSDAddr == "" {
			loc.GPSDAddr = "127.0.0.1:2947"
		}
	case "nmea":
		if loc.Baud <= 0 {
			loc.Baud = 9600
		}
	case "sim":
		if loc.SimRadius <= 0 {
			loc.SimRadius = 80
		}
		if loc.SimPeriod <= 0 {
			loc.SimPeriod = 120 * time.Second
		}
	case "replay":
	default:
		return fmt.Errorf("location.source must be gpsd, nmea, sim or replay")
	}

	mo := &cfg.Motion
	if mo.Source == "" {
		mo.Source = "icm20948"
	}
	switch mo.Source {
	case "icm20948":
		if mo.I2CBus <= 0 {
			mo.I2CBus = 1
		}
		if mo.I2CAddr == 0 {
			mo.I2CAddr = 0x68
		}
	case "serial":
		if mo.Device == "" {
			return fmt.Errorf("motion.device is required when motion.source is serial")
		}
		if mo.Baud <= 0 {
			mo.Baud = 115200
		}
	case "sim":
		if mo.SimPeriod <= 0 {
			mo.SimPeriod = 60 * time.Second
		}
	case "replay":
	default:
		return fmt.Errorf("motion.source must be icm20948, serial, sim or replay")
	}

	cam := &cfg.Camera
	if cam.Source == "" {
		cam.Source = "command"
	}
	switch cam.Source {
	case "command":
		if cam.Command == "" {
			cam.Command = "libcamera-still"
			if len(cam.Args) == 0 {
				cam.Args = []string{"-n", "-e", "jpg", "-o", "-"}
			}
		}
		if cam.ContentType == "" {
			cam.ContentType = "image/jpeg"
		}
	case "sim":
		if cam.Width <= 0 {
			cam.Width = 640
		}
		if cam.Height <= 0 {
			cam.Height = 480
		}
	default:
		return fmt.Errorf("camera.source must be command or sim")
	}
	if cam.Timeout <= 0 {
		cam.Timeout = 10 * time.Second
	}

	if cfg.Library.Dir == "" {
		cfg.Library.Dir = "/var/lib/northcam/photos"
	}

	for name, v := range map[string]string{
		"location": cfg.Permissions.Location,
		"camera":   cfg.Permissions.Camera,
		"storage":  cfg.Permissions.Storage,
	} {
		if _, err := perm.ParseStatus(v); err != nil {
			return fmt.Errorf("permissions.%s must be granted, denied or denied_permanently", name)
		}
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	if cfg.UDP.Enable {
		if cfg.UDP.Dest == "" {
			return fmt.Errorf("udp.dest is required when udp.enable is true")
		}
		if cfg.UDP.MinInterval <= 0 {
			cfg.UDP.MinInterval = 200 * time.Millisecond
		}
	}

	if cfg.GPIO.Enable {
		if cfg.GPIO.ButtonPin <= 0 && cfg.GPIO.LEDPin <= 0 {
			return fmt.Errorf("gpio.button_pin or gpio.led_pin is required when gpio.enable is true")
		}
		if cfg.GPIO.Debounce <= 0 {
			cfg.GPIO.Debounce = 30 * time.Millisecond
		}
	}

	if cfg.Events.Enable {
		if cfg.Events.NSQDAddr == "" {
			return fmt.Errorf("events.nsqd_addr is required when events.enable is true")
		}
		if cfg.Events.Topic == "" {
			cfg.Events.Topic = "northcam.captures"
		}
		if cfg.Events.Buffer <= 0 {
			cfg.Events.Buffer = 64
		}
	}

	usesReplay := loc.Source == "replay" || mo.Source == "replay"
	if usesReplay {
		if cfg.Replay.Path == "" {
			return fmt.Errorf("replay.path is required when a source is replay")
		}
		if cfg.Replay.Speed == 0 {
			cfg.Replay.Speed = 1
		}
		if cfg.Replay.Speed < 0 {
			return fmt.Errorf("replay.speed must be > 0")
		}
	}
	if cfg.Record.Enable {
		if cfg.Record.Path == "" {
			return fmt.Errorf("record.path is required when record.enable is true")
		}
		if usesReplay {
			return fmt.Errorf("record and replay cannot both be enabled")
		}
	}

	return nil
}
