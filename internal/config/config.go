// Package config loads hamasterd's YAML configuration file, validates it,
// and allows flag overrides, matching the teacher daemon's own
// load-then-override convention in cmd/dplaned/main.go.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"hamasterd/internal/cluster"
	"hamasterd/internal/clusterproto"
	"hamasterd/internal/resource"
)

// TCPPingHost names one ha_tcp_ping_hosts entry.
type TCPPingHost struct {
	Hostname string `yaml:"hostname" validate:"required"`
	Port     int    `yaml:"port" validate:"required"`
}

// Config is the full set of spec.md §6 HA parameters plus this port's
// ambient-stack settings (admin HTTP bind address, control-socket path,
// event-log database path).
type Config struct {
	HANodeList    string        `yaml:"ha_node_list" validate:"required"`
	HAReplicaList string        `yaml:"ha_replica_list"`
	HAPingHosts   []string      `yaml:"ha_ping_hosts"`
	HATCPPingHosts []TCPPingHost `yaml:"ha_tcp_ping_hosts"`
	IsReplicaMode bool          `yaml:"is_replica_mode"`

	HAPortID                                int `yaml:"ha_port_id" validate:"required"`
	HAHeartbeatIntervalMsecs                int `yaml:"ha_heartbeat_interval_in_msecs" validate:"required"`
	HACalcScoreIntervalMsecs                int `yaml:"ha_calc_score_interval_in_msecs" validate:"required"`
	HAInitTimerMsecs                        int `yaml:"ha_init_timer_in_msecs" validate:"required"`
	HAFailoverWaitTimeMsecs                  int `yaml:"ha_failover_wait_time_in_msecs" validate:"required"`
	HAMaxHeartbeatGap                        int `yaml:"ha_max_heartbeat_gap" validate:"required"`
	HAChangemodeIntervalMsecs                int `yaml:"ha_changemode_interval_in_msecs" validate:"required"`
	HAProcessStartConfirmIntervalMsecs       int `yaml:"ha_process_start_confirm_interval_in_msecs" validate:"required"`
	HAProcessDeregConfirmIntervalMsecs       int `yaml:"ha_process_dereg_confirm_interval_in_msecs" validate:"required"`
	HAMaxProcessStartConfirm                 int `yaml:"ha_max_process_start_confirm" validate:"required"`
	HAMaxProcessDeregConfirm                 int `yaml:"ha_max_process_dereg_confirm" validate:"required"`
	HAUnacceptableProcRestartTimediffMsecs   int `yaml:"ha_unacceptable_proc_restart_timediff_in_msecs"`
	HACheckDiskFailureIntervalSecs           int `yaml:"ha_check_disk_failure_interval_in_secs" validate:"required"`
	HAUpdateHostnameIntervalMsecs            int `yaml:"ha_update_hostname_interval_in_msecs" validate:"required"`

	AdminHTTPAddr     string `yaml:"admin_http_addr" validate:"required"`
	ControlSocketPath string `yaml:"control_socket_path" validate:"required"`
	EventLogPath      string `yaml:"event_log_path" validate:"required"`
}

var validate = validator.New()

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// BindFlags registers flags for the roster, port and path fields
// (ha-node-list, ha-replica-list, is-replica-mode, ha-port-id,
// admin-http-addr, control-socket-path, event-log-path), defaulting to cfg's
// current values, so a later fs.Parse overrides whatever the YAML file set
// for those fields; the remaining fields come only from the YAML file
// (teacher's cmd/dplaned/main.go convention).
func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.HANodeList, "ha-node-list", cfg.HANodeList, "group@host1,host2,... master-eligible roster")
	fs.StringVar(&cfg.HAReplicaList, "ha-replica-list", cfg.HAReplicaList, "group@host1,host2,... replica roster")
	fs.BoolVar(&cfg.IsReplicaMode, "is-replica-mode", cfg.IsReplicaMode, "start this node in replica mode")
	fs.IntVar(&cfg.HAPortID, "ha-port-id", cfg.HAPortID, "UDP port for cluster heartbeats")
	fs.StringVar(&cfg.AdminHTTPAddr, "admin-http-addr", cfg.AdminHTTPAddr, "admin HTTP listen address")
	fs.StringVar(&cfg.ControlSocketPath, "control-socket-path", cfg.ControlSocketPath, "unix control socket path")
	fs.StringVar(&cfg.EventLogPath, "event-log-path", cfg.EventLogPath, "event log SQLite database path")
}

// ClusterConfig converts to internal/cluster's Config.
func (c *Config) ClusterConfig() cluster.Config {
	var tcpHosts []cluster.PingHostPort
	for _, h := range c.HATCPPingHosts {
		tcpHosts = append(tcpHosts, cluster.PingHostPort{Hostname: h.Hostname, Port: h.Port})
	}
	return cluster.Config{
		NodeList:          c.HANodeList,
		ReplicaList:       c.HAReplicaList,
		PingHosts:         c.HAPingHosts,
		TCPPingHosts:      tcpHosts,
		MaxHeartbeatGap:   c.HAMaxHeartbeatGap,
		CalcScoreInterval: time.Duration(c.HACalcScoreIntervalMsecs) * time.Millisecond,
		IsReplicaMode:     c.IsReplicaMode,
	}
}

// ClusterProtoConfig converts to internal/clusterproto's Config.
func (c *Config) ClusterProtoConfig() clusterproto.Config {
	return clusterproto.Config{
		HeartbeatInterval: time.Duration(c.HAHeartbeatIntervalMsecs) * time.Millisecond,
		CalcScoreInterval: time.Duration(c.HACalcScoreIntervalMsecs) * time.Millisecond,
		InitTimer:         time.Duration(c.HAInitTimerMsecs) * time.Millisecond,
		FailoverWaitTime:  time.Duration(c.HAFailoverWaitTimeMsecs) * time.Millisecond,
	}
}

// ResourceConfig converts to internal/resource's Config.
func (c *Config) ResourceConfig() resource.Config {
	return resource.Config{
		ChangeModeInterval:          time.Duration(c.HAChangemodeIntervalMsecs) * time.Millisecond,
		ProcessStartConfirmInterval: time.Duration(c.HAProcessStartConfirmIntervalMsecs) * time.Millisecond,
		ProcessDeregConfirmInterval: time.Duration(c.HAProcessDeregConfirmIntervalMsecs) * time.Millisecond,
		MaxProcessStartConfirm:      c.HAMaxProcessStartConfirm,
		MaxProcessDeregConfirm:      c.HAMaxProcessDeregConfirm,
		UpdateHostnameInterval:      time.Duration(c.HAUpdateHostnameIntervalMsecs) * time.Millisecond,
		CheckDiskFailureInterval:    time.Duration(c.HACheckDiskFailureIntervalSecs) * time.Second,
		UnacceptableRestartWindow:   time.Duration(c.HAUnacceptableProcRestartTimediffMsecs) * time.Millisecond,
	}
}
