package port

import "context"

// Emitter 单个客户端连接的下行通道
type Emitter interface {
	Emit(event string, payload any) error
}

// SnapshotMirror 最新行情镜像（可选）
type SnapshotMirror interface {
	UpsertSnapshot(ctx context.Context, key string, payload any) error
}
