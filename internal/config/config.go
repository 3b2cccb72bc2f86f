// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Filename string `yaml:"filename"`
}

type KhaltiConfig struct {
	BaseURL        string `yaml:"base_url"`
	ReturnURL      string `yaml:"return_url"`
	SiteURL        string `yaml:"site_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SecretKey      string `yaml:"-"` // Loaded from environment
}

// Timeout bounds each gateway call.
func (k KhaltiConfig) Timeout() time.Duration {
	return time.Duration(k.TimeoutSeconds) * time.Second
}

type NotificationsConfig struct {
	// Backend selects the notifier implementation: "log" or "ses".
	Backend         string `yaml:"backend"`
	SESRegion       string `yaml:"ses_region"`
	SESSender       string `yaml:"ses_sender"`
	AccessKeyID     string `yaml:"-"` // Loaded from environment
	SecretAccessKey string `yaml:"-"` // Loaded from environment
}

type BookingConfig struct {
	// FreeSlotsPerDay is the per-user daily quota of complimentary bookings.
	FreeSlotsPerDay int `yaml:"free_slots_per_day"`
	// ReservationTTLMinutes bounds how long a pending gateway payment holds
	// a slot or tournament spot.
	ReservationTTLMinutes int `yaml:"reservation_ttl_minutes"`
	// PointsDivisor converts a whole-unit price into a points cost.
	PointsDivisor int `yaml:"points_divisor"`
	// ReminderHoursBefore controls when booking reminders fire.
	ReminderHoursBefore int `yaml:"reminder_hours_before"`
}

// ReservationTTL is ReservationTTLMinutes as a duration.
func (b BookingConfig) ReservationTTL() time.Duration {
	return time.Duration(b.ReservationTTLMinutes) * time.Minute
}

type JobsConfig struct {
	ExpirySweepCron     string `yaml:"expiry_sweep_cron"`
	StatusClockCron     string `yaml:"status_clock_cron"`
	CompletionSweepCron string `yaml:"completion_sweep_cron"`
	ReminderCron        string `yaml:"reminder_cron"`
}

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
		Port        int    `yaml:"port"`
		BaseURL     string `yaml:"base_url"`
	} `yaml:"app"`

	Database      DatabaseConfig      `yaml:"database"`
	Khalti        KhaltiConfig        `yaml:"khalti"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Booking       BookingConfig       `yaml:"booking"`
	Jobs          JobsConfig          `yaml:"jobs"`
}

// Load loads both .env and yaml configuration.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Load sensitive values from environment
	cfg.Khalti.SecretKey = os.Getenv("KHALTI_SECRET_KEY")
	cfg.Notifications.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.Notifications.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Booking.FreeSlotsPerDay == 0 {
		c.Booking.FreeSlotsPerDay = 2
	}
	if c.Booking.ReservationTTLMinutes == 0 {
		c.Booking.ReservationTTLMinutes = 15
	}
	if c.Booking.PointsDivisor == 0 {
		c.Booking.PointsDivisor = 10
	}
	if c.Booking.ReminderHoursBefore == 0 {
		c.Booking.ReminderHoursBefore = 24
	}
	if c.Khalti.TimeoutSeconds == 0 {
		c.Khalti.TimeoutSeconds = 15
	}
	if c.Khalti.BaseURL == "" {
		c.Khalti.BaseURL = "https://a.khalti.com/api/v2"
	}
	if c.Jobs.ExpirySweepCron == "" {
		c.Jobs.ExpirySweepCron = "*/5 * * * *"
	}
	if c.Jobs.StatusClockCron == "" {
		c.Jobs.StatusClockCron = "* * * * *"
	}
	if c.Jobs.CompletionSweepCron == "" {
		c.Jobs.CompletionSweepCron = "*/30 * * * *"
	}
	if c.Jobs.ReminderCron == "" {
		c.Jobs.ReminderCron = "*/15 * * * *"
	}
	if c.Notifications.Backend == "" {
		c.Notifications.Backend = "log"
	}
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.App.Port == 0 {
		return fmt.Errorf("app port is required")
	}
	if c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.Filename == "" {
		return fmt.Errorf("database filename is required for sqlite")
	}
	if c.Notifications.Backend == "ses" {
		if c.Notifications.SESRegion == "" || c.Notifications.SESSender == "" {
			return fmt.Errorf("ses region and sender are required for the ses backend")
		}
	}
	return nil
}
