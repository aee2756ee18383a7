package raft

import (
	"errors"
	"fmt"
	ldcfg "github.com/lni/dragonboat/v3/config"
	"github.com/lni/dragonboat/v3/raftio"
	"time"
)

const (
	defaultSubmitTimeout      = 3 * time.Second
	defaultSubmitDeadline     = 30 * time.Second
	defaultMembershipTimeout  = 5 * time.Second
	defaultRTTMillisecond     = 200
	defaultElectionRTT        = 10
	defaultSnapshotEntries    = 2000
	defaultCompactionOverhead = 500
	maxQueueBytes             = 16 * 1024 * 1024
)

// RaftConfig 冷却账本复制集群的部署参数
// 账本只有冷却标记与层级开关，数据量小，默认值按小状态机调优
type RaftConfig struct {
	DeploymentID       uint16        `json:"deployment_id" yaml:"deployment_id"`               // 部署环境 ID，隔离 dev/staging/prod
	NodeVersion        uint16        `json:"node_version" yaml:"node_version"`                 // NodeID 高 16 位，同一 IP 重新加入集群时递增
	LocalIP            string        `json:"local_ip" yaml:"local_ip"`                         // 为空时取第一个非回环 IPv4
	ClusterID          uint16        `json:"cluster_id" yaml:"cluster_id"`                     // Raft 集群 ID
	Join               bool          `json:"join" yaml:"join"`                                 // true=加入已有集群，false=用 members 初始化
	Port               uint16        `json:"port" yaml:"port"`                                 // 节点间通信端口，所有节点相同
	Members            []string      `json:"members" yaml:"members"`                           // 初始节点 "version:ip"，为空时单节点启动
	RTTMillisecond     uint32        `json:"rtt_ms" yaml:"rtt_ms"`                             // 逻辑时钟基本单位（毫秒）
	ElectionRTT        uint32        `json:"election_rtt" yaml:"election_rtt"`                 // 选举超时，单位 RTT
	SnapshotEntries    uint32        `json:"snapshot_entries" yaml:"snapshot_entries"`         // 每多少条日志自动快照
	CompactionOverhead uint32        `json:"compaction_overhead" yaml:"compaction_overhead"`   // 快照后保留的日志条数
	CompressSnapshots  bool          `json:"compress_snapshots" yaml:"compress_snapshots"`     // 快照与日志使用 snappy 压缩
	WALDir             string        `json:"wal_dir" yaml:"wal_dir"`                           // WAL 目录
	NodeHostDir        string        `json:"node_host_dir" yaml:"node_host_dir"`               // 快照与元数据目录
	SubmitTimeout      time.Duration `json:"submit_timeout" yaml:"submit_timeout"`             // 单次提交超时，默认 3s
	SubmitDeadline     time.Duration `json:"submit_deadline" yaml:"submit_deadline"`           // 提交重试总时长，默认 30s
	MembershipTimeout  time.Duration `json:"membership_timeout" yaml:"membership_timeout"`     // 增删节点超时，默认 5s
	DragonboatLogLevel string        `json:"dragonboat_log_level" yaml:"dragonboat_log_level"` // dragonboat 内部日志级别，默认 warn
}

// setDefaults 补齐零值并校验
func (c *RaftConfig) setDefaults() error {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = defaultSubmitTimeout
	}
	if c.SubmitDeadline <= 0 {
		c.SubmitDeadline = defaultSubmitDeadline
	}
	if c.MembershipTimeout <= 0 {
		c.MembershipTimeout = defaultMembershipTimeout
	}
	if c.RTTMillisecond == 0 {
		c.RTTMillisecond = defaultRTTMillisecond
	}
	if c.ElectionRTT == 0 {
		c.ElectionRTT = defaultElectionRTT
	}
	if c.SnapshotEntries == 0 {
		c.SnapshotEntries = defaultSnapshotEntries
	}
	if c.CompactionOverhead == 0 {
		c.CompactionOverhead = defaultCompactionOverhead
	}

	if c.SubmitDeadline < c.SubmitTimeout {
		return fmt.Errorf("submit_deadline (%v) must be >= submit_timeout (%v)", c.SubmitDeadline, c.SubmitTimeout)
	}
	if c.ElectionRTT < 5 {
		return errors.New("election_rtt must be at least 5")
	}
	if c.Port == 0 {
		return errors.New("raft port is required")
	}
	if c.NodeHostDir == "" {
		return errors.New("node_host_dir is required")
	}
	return nil
}

// initialMembers join=false 时的初始成员；members 为空则只有自己
func (c *RaftConfig) initialMembers(selfID uint32, selfIP string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	if c.Join {
		return members, nil
	}
	if len(c.Members) == 0 {
		members[uint64(selfID)] = c.raftAddress(selfIP)
		return members, nil
	}
	for _, m := range c.Members {
		id, err := ParseNodeID(m)
		if err != nil {
			return nil, fmt.Errorf("invalid member %q: %w", m, err)
		}
		if _, dup := members[uint64(id)]; dup {
			return nil, fmt.Errorf("member %q collides with another member's node id", m)
		}
		members[uint64(id)] = c.raftAddress(memberIP(m))
	}
	if _, ok := members[uint64(selfID)]; !ok {
		return nil, fmt.Errorf("local node %s is not listed in members", FormatNodeID(selfID))
	}
	return members, nil
}

func (c *RaftConfig) raftAddress(ip string) string {
	return fmt.Sprintf("%s:%d", ip, c.Port)
}

func (c *RaftConfig) nodeHostConfig(selfIP string, listener raftio.IRaftEventListener, sys raftio.ISystemEventListener) ldcfg.NodeHostConfig {
	return ldcfg.NodeHostConfig{
		DeploymentID:        uint64(c.DeploymentID),
		WALDir:              c.WALDir,
		NodeHostDir:         c.NodeHostDir,
		RTTMillisecond:      uint64(c.RTTMillisecond),
		RaftAddress:         c.raftAddress(selfIP),
		ListenAddress:       fmt.Sprintf("0.0.0.0:%d", c.Port),
		EnableMetrics:       true,
		RaftEventListener:   listener,
		SystemEventListener: sys,
		MaxSendQueueSize:    maxQueueBytes,
		MaxReceiveQueueSize: maxQueueBytes,
	}
}

func (c *RaftConfig) clusterConfig(nodeID uint32) ldcfg.Config {
	compression := ldcfg.NoCompression
	if c.CompressSnapshots {
		compression = ldcfg.Snappy
	}
	return ldcfg.Config{
		NodeID:                  uint64(nodeID),
		ClusterID:               uint64(c.ClusterID),
		CheckQuorum:             true, // 少数派的 leader 主动下台，避免双主同时推送告警
		ElectionRTT:             uint64(c.ElectionRTT),
		HeartbeatRTT:            1,
		SnapshotEntries:         uint64(c.SnapshotEntries),
		CompactionOverhead:      uint64(c.CompactionOverhead),
		MaxInMemLogSize:         maxQueueBytes,
		SnapshotCompressionType: compression,
		EntryCompressionType:    compression,
	}
}
