package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultLogsDir        = "logs"
	DefaultOutputDir      = "analysis_results"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultNodePrefix     = "node-"
	DefaultNodeIDBase     = 10000
	DefaultPortMin        = 10000
	DefaultPortMax        = 10999
	DefaultTopStableLinks = 5
	DefaultRankingLimit   = 10

	DefaultReportFile     = "performance_report.txt"
	DefaultSnapshotFile   = "snapshot.yaml"
	DefaultNodeCSVFile    = "node_summary.csv"
	DefaultMessageCSVFile = "message_summary.csv"
	DefaultTextfile       = "p2p_metrics.prom"
)

// Config holds analyzer and export settings.
type Config struct {
	Analyzer *AnalyzerConfig `yaml:"analyzer,omitempty"`
	Export   *ExportConfig   `yaml:"export,omitempty"`
}

// AnalyzerConfig controls log discovery and the node namespace.
type AnalyzerConfig struct {
	LogsDir        string `yaml:"logs_dir"`
	OutputDir      string `yaml:"output_dir"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	NodePrefix     string `yaml:"node_prefix"`
	NodeIDBase     int    `yaml:"node_id_base"`
	PortMin        int    `yaml:"port_min"`
	PortMax        int    `yaml:"port_max"`
	TopStableLinks int    `yaml:"top_stable_links"`
	RankingLimit   int    `yaml:"ranking_limit"`
}

// ExportConfig names the artifacts written into the output dir.
// A name of "-" skips that artifact.
type ExportConfig struct {
	Report     string `yaml:"report"`
	Snapshot   string `yaml:"snapshot"`
	NodeCSV    string `yaml:"node_csv"`
	MessageCSV string `yaml:"message_csv"`
	Textfile   string `yaml:"textfile"`
	Color      *bool  `yaml:"color,omitempty"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	a := cfg.Analyzer
	if a == nil {
		return fmt.Errorf("config must contain analyzer section")
	}
	if a.LogsDir == "" {
		return fmt.Errorf("analyzer.logs_dir is required")
	}
	if a.NodePrefix == "" {
		return fmt.Errorf("analyzer.node_prefix is required")
	}
	if a.PortMin < 1 || a.PortMax > 65535 {
		return fmt.Errorf("analyzer port range %d-%d outside 1-65535", a.PortMin, a.PortMax)
	}
	if a.PortMin > a.PortMax {
		return fmt.Errorf("analyzer.port_min %d greater than port_max %d", a.PortMin, a.PortMax)
	}
	if a.NodeIDBase < 0 {
		return fmt.Errorf("analyzer.node_id_base must not be negative")
	}
	if a.TopStableLinks < 0 || a.RankingLimit < 0 {
		return fmt.Errorf("analyzer limits must not be negative")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Analyzer == nil {
		cfg.Analyzer = &AnalyzerConfig{}
	}
	a := cfg.Analyzer
	if a.LogsDir == "" {
		a.LogsDir = DefaultLogsDir
	}
	if a.OutputDir == "" {
		a.OutputDir = DefaultOutputDir
	}
	if a.LogLevel == "" {
		a.LogLevel = DefaultLogLevel
	}
	if a.LogFormat == "" {
		a.LogFormat = DefaultLogFormat
	}
	if a.NodePrefix == "" {
		a.NodePrefix = DefaultNodePrefix
	}
	if a.NodeIDBase == 0 {
		a.NodeIDBase = DefaultNodeIDBase
	}
	if a.PortMin == 0 {
		a.PortMin = DefaultPortMin
	}
	if a.PortMax == 0 {
		a.PortMax = DefaultPortMax
	}
	if a.TopStableLinks == 0 {
		a.TopStableLinks = DefaultTopStableLinks
	}
	if a.RankingLimit == 0 {
		a.RankingLimit = DefaultRankingLimit
	}

	if cfg.Export == nil {
		cfg.Export = &ExportConfig{}
	}
	e := cfg.Export
	if e.Report == "" {
		e.Report = DefaultReportFile
	}
	if e.Snapshot == "" {
		e.Snapshot = DefaultSnapshotFile
	}
	if e.NodeCSV == "" {
		e.NodeCSV = DefaultNodeCSVFile
	}
	if e.MessageCSV == "" {
		e.MessageCSV = DefaultMessageCSVFile
	}
	if e.Textfile == "" {
		e.Textfile = DefaultTextfile
	}
	if e.Color == nil {
		enabled := true
		e.Color = &enabled
	}
}

// Namespace maps log sources and peer ports onto node identities.
type Namespace struct {
	Prefix  string
	Base    int
	PortMin int
	PortMax int
}

// Namespace returns the node namespace configured in the analyzer section.
func (a *AnalyzerConfig) Namespace() Namespace {
	return Namespace{Prefix: a.NodePrefix, Base: a.NodeIDBase, PortMin: a.PortMin, PortMax: a.PortMax}
}

// DefaultNamespace is the namespace used when no config is supplied.
func DefaultNamespace() Namespace {
	return Namespace{Prefix: DefaultNodePrefix, Base: DefaultNodeIDBase, PortMin: DefaultPortMin, PortMax: DefaultPortMax}
}

// SourceID returns the node id of the log source with ordinal n.
func (ns Namespace) SourceID(n int) string {
	return ns.Prefix + strconv.Itoa(ns.Base+n)
}

// PeerID returns the node id listening on port, or false when the port is
// outside the configured range.
func (ns Namespace) PeerID(port int) (string, bool) {
	if port < ns.PortMin || port > ns.PortMax {
		return "", false
	}
	return ns.Prefix + strconv.Itoa(port), true
}

// Index returns the source ordinal encoded in id, or -1.
func (ns Namespace) Index(id string) int {
	rest, ok := strings.CutPrefix(id, ns.Prefix)
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < ns.Base {
		return -1
	}
	return n - ns.Base
}
