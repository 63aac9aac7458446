// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

package config

import (
	"strings"

	"github.com/DataDog/viper"
	"github.com/pkg/errors"
)

const (
	// DefaultEbpflessAddress is the default address of the syscall stream server
	DefaultEbpflessAddress = "localhost:5678"
	// DefaultStatsdAddress is the default dogstatsd address
	DefaultStatsdAddress = "localhost:8125"

	envPrefix = "DD"
)

// New returns a viper instance with the defaults of the deletion probe and env bindings
func New() *viper.Viper {
	cfg := viper.New()
	cfg.SetConfigType("yaml")
	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	InitCWSConfig(cfg)
	return cfg
}

func bindEnvAndSetDefault(cfg *viper.Viper, key string, value interface{}) {
	cfg.SetDefault(key, value)
	_ = cfg.BindEnv(key)
}

// InitCWSConfig declares the configuration keys of the deletion probe
func InitCWSConfig(cfg *viper.Viper) {
	bindEnvAndSetDefault(cfg, "runtime_security_config.enabled", true)
	bindEnvAndSetDefault(cfg, "runtime_security_config.syscall_cache_size", 8192)
	bindEnvAndSetDefault(cfg, "runtime_security_config.pid_discarder_timeout", "10s")
	bindEnvAndSetDefault(cfg, "runtime_security_config.inode_discarder_cache_size", 4096)
	bindEnvAndSetDefault(cfg, "runtime_security_config.dentry_cache_size", 1024)
	bindEnvAndSetDefault(cfg, "runtime_security_config.mount_revision_count", 4096)
	bindEnvAndSetDefault(cfg, "runtime_security_config.event_stream.buffer_size", 1024)
	bindEnvAndSetDefault(cfg, "runtime_security_config.ebpfless.address", DefaultEbpflessAddress)
	bindEnvAndSetDefault(cfg, "runtime_security_config.statsd.enabled", false)
	bindEnvAndSetDefault(cfg, "runtime_security_config.statsd.address", DefaultStatsdAddress)
	bindEnvAndSetDefault(cfg, "runtime_security_config.statsd.period", "10s")
	bindEnvAndSetDefault(cfg, "runtime_security_config.event_types", []string{"rmdir", "unlink"})
	bindEnvAndSetDefault(cfg, "runtime_security_config.log_level", "info")
	bindEnvAndSetDefault(cfg, "runtime_security_config.log_file", "")
	bindEnvAndSetDefault(cfg, "runtime_security_config.log_tags", []string{})
	bindEnvAndSetDefault(cfg, "runtime_security_config.output", "-")
	cfg.SetDefault("runtime_security_config.policies", []interface{}{})
}

// Load reads the given configuration file, if any, and returns the probe configuration
func Load(cfg *viper.Viper, path string) (*Config, error) {
	if path != "" {
		cfg.SetConfigFile(path)
		if err := cfg.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "unable to load config file `%s`", path)
		}
	}
	return NewConfig(cfg)
}
