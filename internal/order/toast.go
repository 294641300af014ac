package order

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ToastLevel string

const (
	ToastSuccess ToastLevel = "success"
	ToastInfo    ToastLevel = "info"
	ToastWarning ToastLevel = "warning"
	ToastError   ToastLevel = "error"
)

// Toaster receives a user-facing notice after every service operation.
type Toaster interface {
	Toast(ctx context.Context, level ToastLevel, title, message string)
}

// LogToaster writes toasts to the global logger.
type LogToaster struct{}

func (LogToaster) Toast(_ context.Context, level ToastLevel, title, message string) {
	var ev *zerolog.Event
	switch level {
	case ToastError:
		ev = log.Error()
	case ToastWarning:
		ev = log.Warn()
	default:
		ev = log.Info()
	}
	ev.Str("toast_level", string(level)).Str("title", title).Msg(message)
}
