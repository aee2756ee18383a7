package raft

// Serializable 可写入快照的记录，追加到 buf 后返回
type Serializable interface {
	Serialize(buf []byte) ([]byte, error)
}

// RoleListener 角色与就绪状态变化，first 表示本次是状态切换而非周期性重申
type RoleListener interface {
	OnBecameRaftLeader(first bool)
	OnBecameRaftFollower(first bool)
	OnRaftReady()
}

// StateListener 状态机数据回调
type StateListener interface {
	OnRaftDataUpdated(data []byte) error
	OnPrepareSnapshot() ([]Serializable, error)
	OnRecoverFromSnapshot(data []byte) error
	OnRecoverFromSnapshotDone() error
}

// RaftListener 由 App 实现
type RaftListener interface {
	RoleListener
	StateListener
}
