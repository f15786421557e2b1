package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"zoneguard/internal/model"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	Feeds       []FeedConfig      `json:"feeds" yaml:"feeds"`
	Sampling    SamplingConfig    `json:"sampling" yaml:"sampling"`
	Stabilizer  StabilizerConfig  `json:"stabilizer" yaml:"stabilizer"`
	BodyTracker BodyTrackerConfig `json:"body_tracker" yaml:"body_tracker"`
	Zones       ZonesConfig       `json:"zones" yaml:"zones"`
	Doors       DoorsConfig       `json:"doors" yaml:"doors"`
	Policy      PolicyConfig      `json:"policy" yaml:"policy"`
	Alerts      AlertsConfig      `json:"alerts" yaml:"alerts"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Ingest      IngestConfig      `json:"ingest" yaml:"ingest"`
	Notify      NotifyConfig      `json:"notify" yaml:"notify"`
	API         APIConfig         `json:"api" yaml:"api"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
}

type FeedConfig struct {
	ID          int               `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	DetectorURL string            `json:"detector_url" yaml:"detector_url"`
	Calibration CalibrationConfig `json:"calibration" yaml:"calibration"`
}

// CalibrationConfig maps four pixel points to four normalized floor plan points.
// An empty Kind or "identity" keeps the detector's own normalization.
type CalibrationConfig struct {
	Kind  string        `json:"kind" yaml:"kind"`
	Image [][2]float64 `json:"image" yaml:"image"`
	Plan  [][2]float64 `json:"plan" yaml:"plan"`
}

type SamplingConfig struct {
	Interval        time.Duration `json:"interval" yaml:"interval"`
	DetectorTimeout time.Duration `json:"detector_timeout" yaml:"detector_timeout"`
}

type StabilizerConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	OverlapThreshold    float64 `json:"overlap_threshold" yaml:"overlap_threshold"`
	SilenceFrames       int     `json:"silence_frames" yaml:"silence_frames"`
}

type BodyTrackerConfig struct {
	IOUThreshold float64       `json:"iou_threshold" yaml:"iou_threshold"`
	FaceOverlap  float64       `json:"face_overlap" yaml:"face_overlap"`
	MinLockScore float64       `json:"min_lock_score" yaml:"min_lock_score"`
	IdentityTTL  time.Duration `json:"identity_ttl" yaml:"identity_ttl"`
	BodyTTL      time.Duration `json:"body_ttl" yaml:"body_ttl"`
}

type ZonesConfig struct {
	// Containment is "anchor" (bottom-center inside) or "full_box" (all four corners inside).
	Containment string `json:"containment" yaml:"containment"`
}

type DoorsConfig struct {
	Retention     time.Duration `json:"retention" yaml:"retention"`
	MoveThreshold float64       `json:"move_threshold" yaml:"move_threshold"`
	ContinuityIOU float64       `json:"continuity_iou" yaml:"continuity_iou"`
	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
}

type PolicyConfig struct {
	Timezone    string   `json:"timezone" yaml:"timezone"`
	BypassRoles []string `json:"bypass_roles" yaml:"bypass_roles"`
}

type AlertsConfig struct {
	Cooldown              time.Duration `json:"cooldown" yaml:"cooldown"`
	StoreLimit            int           `json:"store_limit" yaml:"store_limit"`
	RearmOnPersistFailure bool          `json:"rearm_on_persist_failure" yaml:"rearm_on_persist_failure"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	Replay        ReplayConfig    `json:"replay" yaml:"replay"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type ReplayConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Files   []string `json:"files" yaml:"files"`
	Follow  bool     `json:"follow" yaml:"follow"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type NotifyConfig struct {
	Log   bool               `json:"log" yaml:"log"`
	Kafka KafkaPublishConfig `json:"kafka" yaml:"kafka"`
}

type KafkaPublishConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Brokers   []string `json:"brokers" yaml:"brokers"`
	Topic     string   `json:"topic" yaml:"topic"`
	QueueSize int      `json:"queue_size" yaml:"queue_size"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Sampling: SamplingConfig{
			Interval:        400 * time.Millisecond,
			DetectorTimeout: 2 * time.Second,
		},
		Stabilizer: StabilizerConfig{
			ConfidenceThreshold: 0.42,
			OverlapThreshold:    0.25,
			SilenceFrames:       5,
		},
		BodyTracker: BodyTrackerConfig{
			IOUThreshold: 0.40,
			FaceOverlap:  0.30,
			MinLockScore: 0.55,
			IdentityTTL:  8 * time.Second,
			BodyTTL:      3 * time.Second,
		},
		Zones: ZonesConfig{Containment: "anchor"},
		Doors: DoorsConfig{
			Retention:     10 * time.Second,
			MoveThreshold: 0.15,
			ContinuityIOU: 0.3,
			BufferSize:    64,
		},
		Policy: PolicyConfig{Timezone: "Local"},
		Alerts: AlertsConfig{
			Cooldown:   15 * time.Second,
			StoreLimit: 1000,
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:zoneguard.db?_pragma=busy_timeout(5000)"},
		Ingest: IngestConfig{
			ChannelBuffer: 256,
			REST:          RESTConfig{Enabled: false, Addr: ":8090"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
		},
		Notify:  NotifyConfig{Log: true},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Metrics: MetricsConfig{StoreLimit: 256},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	return Parse([]byte(trimmed))
}

// Parse decodes a YAML or JSON document on top of DefaultConfig.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	var decodeErr error
	if looksLikeJSON(string(content)) {
		decodeErr = json.Unmarshal(content, cfg)
	} else {
		decodeErr = yaml.Unmarshal(content, cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Sampling.Interval <= 0 {
		cfg.Sampling.Interval = def.Sampling.Interval
	}
	if cfg.Sampling.DetectorTimeout <= 0 {
		cfg.Sampling.DetectorTimeout = def.Sampling.DetectorTimeout
	}
	if cfg.Stabilizer.SilenceFrames <= 0 {
		cfg.Stabilizer.SilenceFrames = def.Stabilizer.SilenceFrames
	}
	if cfg.Doors.Retention <= 0 {
		cfg.Doors.Retention = def.Doors.Retention
	}
	if cfg.Doors.BufferSize <= 0 {
		cfg.Doors.BufferSize = def.Doors.BufferSize
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = def.Metrics.StoreLimit
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Zones.Containment == "" {
		cfg.Zones.Containment = def.Zones.Containment
	}
	if cfg.Policy.Timezone == "" {
		cfg.Policy.Timezone = def.Policy.Timezone
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.Replay.Enabled && len(cfg.Ingest.Replay.Files) == 0 {
		return errors.New("ingest.replay.files required when ingest.replay.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Notify.Kafka.Enabled {
		if len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "" {
			return errors.New("notify.kafka requires brokers and topic")
		}
	}
	if t := cfg.Stabilizer.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("stabilizer.confidence_threshold out of range: %v", t)
	}
	if t := cfg.Stabilizer.OverlapThreshold; t < 0 || t > 1 {
		return fmt.Errorf("stabilizer.overlap_threshold out of range: %v", t)
	}
	if cfg.Alerts.Cooldown < 0 {
		return errors.New("alerts.cooldown must be >= 0")
	}
	switch cfg.Zones.Containment {
	case "anchor", "full_box":
	default:
		return fmt.Errorf("zones.containment must be anchor or full_box, got %q", cfg.Zones.Containment)
	}
	if _, err := cfg.Policy.Location(); err != nil {
		return fmt.Errorf("policy.timezone: %w", err)
	}
	seen := make(map[int]struct{}, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		if feed.ID < 0 {
			return fmt.Errorf("feeds: negative id %d", feed.ID)
		}
		if _, dup := seen[feed.ID]; dup {
			return fmt.Errorf("feeds: duplicate id %d", feed.ID)
		}
		seen[feed.ID] = struct{}{}
	}
	return nil
}

func (p PolicyConfig) Location() (*time.Location, error) {
	if p.Timezone == "" || p.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(p.Timezone)
}

func (c *Config) Feed(id int) (FeedConfig, bool) {
	for _, f := range c.Feeds {
		if f.ID == id {
			return f, true
		}
	}
	return FeedConfig{}, false
}

// Points converts the calibration pairs into model points.
func (c CalibrationConfig) Points() (image, plan []model.Point) {
	image = make([]model.Point, 0, len(c.Image))
	for _, p := range c.Image {
		image = append(image, model.Point{X: p[0], Y: p[1]})
	}
	plan = make([]model.Point, 0, len(c.Plan))
	for _, p := range c.Plan {
		plan = append(plan, model.Point{X: p[0], Y: p[1]})
	}
	return image, plan
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config. Reload and Watch are no-ops without a path.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
