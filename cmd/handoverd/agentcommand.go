// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"net/http"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/worker/v4"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/juju/handover/agent"
	"github.com/juju/handover/api/ownershiprecord"
	"github.com/juju/handover/cmd"
	corelease "github.com/juju/handover/core/lease"
	"github.com/juju/handover/core/ownership"
	"github.com/juju/handover/internal/backupstore"
	"github.com/juju/handover/internal/backupstore/filestore"
	s3store "github.com/juju/handover/internal/backupstore/s3"
	leasekubernetes "github.com/juju/handover/internal/lease/kubernetes"
	internallogger "github.com/juju/handover/internal/logger"
	"github.com/juju/handover/internal/ownership/dnsrecord"
	"github.com/juju/handover/internal/supervisor"
	"github.com/juju/handover/internal/supervisor/process"
	"github.com/juju/handover/internal/supervisor/systemd"
)

const defaultConfigPath = "/etc/handover/agent.yaml"

// agentCommand is embedded by every command reading the agent config.
type agentCommand struct {
	configPath string
	config     *agent.Config
}

func (c *agentCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.configPath, "config", defaultConfigPath, "path of the agent configuration")
}

func (c *agentCommand) loadConfig(ctx *cmd.Context) error {
	config, err := agent.ReadConfig(ctx.AbsPath(c.configPath))
	if err != nil {
		return errors.Trace(err)
	}
	if config.LoggingConfig != "" {
		if err := internallogger.ConfigureLoggers(config.LoggingConfig); err != nil {
			return errors.Annotate(err, "configuring logging")
		}
	}
	c.config = config
	return nil
}

// statusURL returns the guardian status endpoint of the named cluster.
func (c *agentCommand) statusURL(clusterID string) (string, error) {
	if clusterID == c.config.ClusterID {
		return "http://" + localAddress(c.config.ListenAddress), nil
	}
	peer, err := c.config.Peer(clusterID)
	if err != nil {
		return "", errors.Trace(err)
	}
	return peer.StatusURL, nil
}

// backupStoreConfig returns the backup store config of the named cluster.
func (c *agentCommand) backupStoreConfig(clusterID string) (agent.BackupStoreConfig, error) {
	if clusterID == c.config.ClusterID {
		return c.config.BackupStore, nil
	}
	peer, err := c.config.Peer(clusterID)
	if err != nil {
		return agent.BackupStoreConfig{}, errors.Trace(err)
	}
	return peer.BackupStore, nil
}

func localAddress(listen string) string {
	if len(listen) > 0 && listen[0] == ':' {
		return "localhost" + listen
	}
	return listen
}

func newRecordClient(config agent.RecordConfig) ownership.Client {
	if config.DNSZone != "" {
		return dnsrecord.New(nil, config.DNSZone, config.Timeout.D(), internallogger.GetLogger("handover.ownership.dnsrecord"))
	}
	return ownershiprecord.NewClient(config.URL, &http.Client{Timeout: config.Timeout.D()})
}

func newBackupStore(ctx context.Context, config agent.BackupStoreConfig) (backupstore.Store, error) {
	switch config.Type {
	case agent.BackupStoreFilesystem:
		store, err := filestore.New(config.Path)
		return store, errors.Trace(err)
	case agent.BackupStoreS3:
		client, err := s3store.NewClient(ctx, s3store.Config{
			Endpoint:  config.S3.Endpoint,
			Region:    config.S3.Region,
			AccessKey: config.S3.AccessKey,
			SecretKey: config.S3.SecretKey,
			PathStyle: config.S3.PathStyle,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		return s3store.NewStore(client, config.S3.Bucket, config.S3.Prefix, internallogger.GetLogger("handover.backupstore.s3")), nil
	}
	return nil, errors.NotSupportedf("backup store type %q", config.Type)
}

func newSupervisor(config agent.SubjectConfig) (supervisor.Supervisor, error) {
	logger := internallogger.GetLogger("handover.supervisor." + config.ID)
	switch config.Supervisor.Type {
	case agent.SupervisorSystemd:
		return systemd.New(config.Supervisor.Unit, systemd.NewDBusAPI, logger), nil
	case agent.SupervisorProcess:
		sup, err := process.New(process.Config{
			Command:     config.Supervisor.Command,
			Args:        config.Supervisor.Args,
			StopTimeout: config.Supervisor.StopTimeout.D(),
			Clock:       clock.WallClock,
			Logger:      logger,
		})
		return sup, errors.Trace(err)
	}
	return nil, errors.NotSupportedf("supervisor type %q", config.Supervisor.Type)
}

// newLeaseStore returns the lease store, or a NotSupported error when the
// agent runs without one.
func newLeaseStore(config agent.LeaseConfig) (corelease.Store, error) {
	if config.Type != agent.LeaseStoreKubernetes {
		return nil, errors.NotSupportedf("lease store type %q", config.Type)
	}
	restConfig, err := clientcmd.BuildConfigFromFlags("", config.Kubeconfig)
	if err != nil {
		return nil, errors.Annotate(err, "loading kubernetes config")
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.Annotate(err, "creating kubernetes client")
	}
	return leasekubernetes.NewStore(client, config.Namespace, internallogger.GetLogger("handover.lease.kubernetes")), nil
}

// runUntilCancelled waits for w to stop, killing it when ctx is done.
func runUntilCancelled(ctx context.Context, w worker.Worker) error {
	done := make(chan error, 1)
	go func() {
		done <- w.Wait()
	}()
	select {
	case err := <-done:
		return errors.Trace(err)
	case <-ctx.Done():
		logger.Infof("shutting down")
		return errors.Trace(worker.Stop(w))
	}
}
