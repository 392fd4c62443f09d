package telemetry

import (
	"time"

	"go.uber.org/zap"

	"mcpreg/internal/domain"
)

const (
	FieldEvent      = "event"
	FieldEntryID    = "entryID"
	FieldSource     = "source"
	FieldPrefix     = "prefix"
	FieldHandleID   = "handleID"
	FieldTool       = "tool"
	FieldDurationMs = "duration_ms"
	FieldRequestID  = "request_id"
)

const (
	EventMountAttempt   = "mount_attempt"
	EventMountSuccess   = "mount_success"
	EventMountFailure   = "mount_failure"
	EventUnmount        = "unmount"
	EventDispatch       = "dispatch"
	EventRefreshAttempt = "refresh_attempt"
	EventRefreshSuccess = "refresh_success"
	EventRefreshFailure = "refresh_failure"
	EventSpawn          = "spawn"
	EventSettleExit     = "settle_exit"
	EventStop           = "stop"
	EventRPCTimeout     = "rpc_timeout"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func EntryIDField(entryID string) zap.Field {
	return zap.String(FieldEntryID, entryID)
}

func SourceField(source domain.SourceType) zap.Field {
	return zap.String(FieldSource, string(source))
}

func PrefixField(prefix string) zap.Field {
	return zap.String(FieldPrefix, prefix)
}

func HandleIDField(id string) zap.Field {
	return zap.String(FieldHandleID, id)
}

func ToolField(name string) zap.Field {
	return zap.String(FieldTool, name)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}
