// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package agent holds the configuration of a handover agent.
package agent

import (
	"os"
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/juju/handover/core/ownership"
)

// Backup store types.
const (
	BackupStoreFilesystem = "filesystem"
	BackupStoreS3         = "s3"
)

// Supervisor types.
const (
	SupervisorSystemd = "systemd"
	SupervisorProcess = "process"
)

// Lease store types.
const (
	LeaseStoreNone       = "none"
	LeaseStoreKubernetes = "kubernetes"
)

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.Trace(err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.NotValidf("duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// D returns d as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// Config is the configuration of a handover agent running on one cluster.
type Config struct {
	// ClusterID is the owner identity of this cluster.
	ClusterID string `yaml:"cluster-id"`

	// LoggingConfig is a loggo configuration string.
	LoggingConfig string `yaml:"logging-config,omitempty"`

	// ListenAddress is where the guardian status server listens.
	ListenAddress string `yaml:"listen-address"`

	Record      RecordConfig      `yaml:"record"`
	BackupStore BackupStoreConfig `yaml:"backup-store"`
	Lease       LeaseConfig       `yaml:"lease"`
	Guardian    GuardianConfig    `yaml:"guardian"`
	Copy        CopyConfig        `yaml:"copy"`
	Subjects    []SubjectConfig   `yaml:"subjects"`

	// Peers describes the other clusters, keyed by cluster ID.
	Peers map[string]PeerConfig `yaml:"peers,omitempty"`

	// RecordServer configures the record service daemon. Only the
	// cluster hosting the record needs it.
	RecordServer *RecordServerConfig `yaml:"record-server,omitempty"`
}

// RecordConfig says how the ownership record is reached. Exactly one of
// URL and DNSZone must be set; DNS records are read-only.
type RecordConfig struct {
	URL     string   `yaml:"url,omitempty"`
	DNSZone string   `yaml:"dns-zone,omitempty"`
	Timeout Duration `yaml:"timeout"`
}

// BackupStoreConfig describes a backup store.
type BackupStoreConfig struct {
	Type string `yaml:"type"`

	// Path is the root directory of a filesystem store.
	Path string `yaml:"path,omitempty"`

	S3 *S3Config `yaml:"s3,omitempty"`
}

// S3Config describes an S3 compatible bucket.
type S3Config struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	AccessKey string `yaml:"access-key,omitempty"`
	SecretKey string `yaml:"secret-key,omitempty"`
	PathStyle bool   `yaml:"path-style,omitempty"`
}

// LeaseConfig describes the ownership lease used by watchdogs on this
// cluster.
type LeaseConfig struct {
	Type string `yaml:"type"`

	// Namespace holds the Lease objects. Kubernetes only.
	Namespace string `yaml:"namespace,omitempty"`

	// Kubeconfig is the path of a kubeconfig file. The in-cluster config
	// is used when empty.
	Kubeconfig string `yaml:"kubeconfig,omitempty"`

	Duration      Duration `yaml:"duration"`
	RenewInterval Duration `yaml:"renew-interval"`
}

// GuardianConfig holds the guardian timings shared by all subjects.
type GuardianConfig struct {
	PollInterval     Duration `yaml:"poll-interval"`
	ResolveTimeout   Duration `yaml:"resolve-timeout"`
	SnapshotInterval Duration `yaml:"snapshot-interval"`
	BackupTimeout    Duration `yaml:"backup-timeout"`
	ShutdownTimeout  Duration `yaml:"shutdown-timeout,omitempty"`
}

// CopyConfig holds the snapshot copy timings.
type CopyConfig struct {
	FinalSnapshotTimeout Duration `yaml:"final-snapshot-timeout"`
	PollInterval         Duration `yaml:"poll-interval"`
	OperationTimeout     Duration `yaml:"operation-timeout"`

	// RequireSource makes an unreachable source a hard failure instead
	// of a fallback to empty state.
	RequireSource bool `yaml:"require-source,omitempty"`
}

// SubjectConfig describes one subject guarded on this cluster.
type SubjectConfig struct {
	ID string `yaml:"id"`

	// Database is the path of the local state engine database.
	Database   string           `yaml:"database"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// SupervisorConfig describes how the serving process is controlled.
type SupervisorConfig struct {
	Type string `yaml:"type"`

	// Unit is the systemd unit name.
	Unit string `yaml:"unit,omitempty"`

	Command     string   `yaml:"command,omitempty"`
	Args        []string `yaml:"args,omitempty"`
	StopTimeout Duration `yaml:"stop-timeout,omitempty"`
}

// PeerConfig describes another cluster.
type PeerConfig struct {
	StatusURL   string            `yaml:"status-url"`
	BackupStore BackupStoreConfig `yaml:"backup-store"`
}

// RecordServerConfig configures the record service daemon.
type RecordServerConfig struct {
	ListenAddress string   `yaml:"listen-address"`
	Database      string   `yaml:"database"`
	Timeout       Duration `yaml:"timeout"`
}

// ReadConfig reads and validates the agent configuration at path.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading agent config")
	}
	config, err := ParseConfig(data)
	if err != nil {
		return nil, errors.Annotatef(err, "agent config %q", path)
	}
	return config, nil
}

// ParseConfig parses and validates an agent configuration document,
// filling in defaults for omitted timings.
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Annotate(err, "parsing")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return config, nil
}

// DefaultConfig returns a config holding the default timings.
func DefaultConfig() *Config {
	return &Config{
		ListenAddress: ":17071",
		Record: RecordConfig{
			Timeout: Duration(2 * time.Second),
		},
		Lease: LeaseConfig{
			Type:          LeaseStoreNone,
			Duration:      Duration(30 * time.Second),
			RenewInterval: Duration(10 * time.Second),
		},
		Guardian: GuardianConfig{
			PollInterval:     Duration(5 * time.Second),
			ResolveTimeout:   Duration(2 * time.Second),
			SnapshotInterval: Duration(5 * time.Minute),
			BackupTimeout:    Duration(time.Minute),
			ShutdownTimeout:  Duration(10 * time.Second),
		},
		Copy: CopyConfig{
			FinalSnapshotTimeout: Duration(5 * time.Minute),
			PollInterval:         Duration(5 * time.Second),
			OperationTimeout:     Duration(time.Minute),
		},
	}
}

// Validate returns an error if the config is not usable.
func (c *Config) Validate() error {
	if err := ownership.ValidateID(c.ClusterID); err != nil {
		return errors.Annotate(err, "cluster-id")
	}
	if err := c.Record.Validate(); err != nil {
		return errors.Annotate(err, "record")
	}
	if err := c.BackupStore.Validate(); err != nil {
		return errors.Annotate(err, "backup-store")
	}
	if err := c.Lease.Validate(); err != nil {
		return errors.Annotate(err, "lease")
	}
	if err := c.Guardian.Validate(); err != nil {
		return errors.Annotate(err, "guardian")
	}
	if err := c.Copy.Validate(); err != nil {
		return errors.Annotate(err, "copy")
	}
	seen := set.NewStrings()
	for _, subject := range c.Subjects {
		if seen.Contains(subject.ID) {
			return errors.NotValidf("duplicate subject %q", subject.ID)
		}
		seen.Add(subject.ID)
		if err := subject.Validate(); err != nil {
			return errors.Annotatef(err, "subject %q", subject.ID)
		}
	}
	for id, peer := range c.Peers {
		if id == c.ClusterID {
			return errors.NotValidf("peer %q naming this cluster", id)
		}
		if err := peer.BackupStore.Validate(); err != nil {
			return errors.Annotatef(err, "peer %q backup-store", id)
		}
	}
	if c.RecordServer != nil {
		if err := c.RecordServer.Validate(); err != nil {
			return errors.Annotate(err, "record-server")
		}
	}
	return nil
}

// Subject returns the config of the named subject.
func (c *Config) Subject(id string) (SubjectConfig, error) {
	for _, subject := range c.Subjects {
		if subject.ID == id {
			return subject, nil
		}
	}
	return SubjectConfig{}, errors.NotFoundf("subject %q", id)
}

// Peer returns the config of the named cluster.
func (c *Config) Peer(id string) (PeerConfig, error) {
	peer, ok := c.Peers[id]
	if !ok {
		return PeerConfig{}, errors.NotFoundf("peer %q", id)
	}
	return peer, nil
}

// Validate returns an error if the record config is not usable.
func (c RecordConfig) Validate() error {
	if (c.URL == "") == (c.DNSZone == "") {
		return errors.NotValidf("record needs exactly one of url and dns-zone")
	}
	if c.Timeout <= 0 {
		return errors.NotValidf("non-positive timeout")
	}
	return nil
}

// Validate returns an error if the backup store config is not usable.
func (c BackupStoreConfig) Validate() error {
	switch c.Type {
	case BackupStoreFilesystem:
		if c.Path == "" {
			return errors.NotValidf("empty path")
		}
	case BackupStoreS3:
		if c.S3 == nil {
			return errors.NotValidf("missing s3 section")
		}
		if c.S3.Bucket == "" {
			return errors.NotValidf("empty bucket")
		}
		if c.S3.Region == "" {
			return errors.NotValidf("empty region")
		}
	default:
		return errors.NotValidf("backup store type %q", c.Type)
	}
	return nil
}

// Validate returns an error if the lease config is not usable.
func (c LeaseConfig) Validate() error {
	switch c.Type {
	case LeaseStoreNone:
		return nil
	case LeaseStoreKubernetes:
		if c.Namespace == "" {
			return errors.NotValidf("empty namespace")
		}
	default:
		return errors.NotValidf("lease store type %q", c.Type)
	}
	if c.RenewInterval <= 0 {
		return errors.NotValidf("non-positive renew-interval")
	}
	if c.Duration <= c.RenewInterval {
		return errors.NotValidf("duration %v not above renew-interval %v", c.Duration.D(), c.RenewInterval.D())
	}
	return nil
}

// Validate returns an error if the guardian timings are not usable.
func (c GuardianConfig) Validate() error {
	if c.PollInterval <= 0 {
		return errors.NotValidf("non-positive poll-interval")
	}
	if c.ResolveTimeout <= 0 || c.ResolveTimeout > c.PollInterval {
		return errors.NotValidf("resolve-timeout %v", c.ResolveTimeout.D())
	}
	if c.SnapshotInterval <= 0 {
		return errors.NotValidf("non-positive snapshot-interval")
	}
	if c.BackupTimeout <= 0 {
		return errors.NotValidf("non-positive backup-timeout")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.NotValidf("non-positive shutdown-timeout")
	}
	return nil
}

// Validate returns an error if the copy timings are not usable.
func (c CopyConfig) Validate() error {
	if c.FinalSnapshotTimeout <= 0 {
		return errors.NotValidf("non-positive final-snapshot-timeout")
	}
	if c.PollInterval <= 0 {
		return errors.NotValidf("non-positive poll-interval")
	}
	if c.OperationTimeout <= 0 {
		return errors.NotValidf("non-positive operation-timeout")
	}
	return nil
}

// Validate returns an error if the subject config is not usable.
func (c SubjectConfig) Validate() error {
	if err := ownership.ValidateID(c.ID); err != nil {
		return errors.Trace(err)
	}
	if c.Database == "" {
		return errors.NotValidf("empty database")
	}
	switch c.Supervisor.Type {
	case SupervisorSystemd:
		if c.Supervisor.Unit == "" {
			return errors.NotValidf("empty supervisor unit")
		}
	case SupervisorProcess:
		if c.Supervisor.Command == "" {
			return errors.NotValidf("empty supervisor command")
		}
		if c.Supervisor.StopTimeout <= 0 {
			return errors.NotValidf("non-positive supervisor stop-timeout")
		}
	default:
		return errors.NotValidf("supervisor type %q", c.Supervisor.Type)
	}
	return nil
}

// Validate returns an error if the record server config is not usable.
func (c RecordServerConfig) Validate() error {
	if c.ListenAddress == "" {
		return errors.NotValidf("empty listen-address")
	}
	if c.Database == "" {
		return errors.NotValidf("empty database")
	}
	if c.Timeout <= 0 {
		return errors.NotValidf("non-positive timeout")
	}
	return nil
}
