package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
)

// statusClientClosed is reported when the caller went away before the
// handler finished.
const statusClientClosed = 499

// ErrorMapping maps a sentinel error to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Code    string // defaults to the code for Status
	Message string // defaults to err.Error()
}

// HandleError writes the response of the first mapping matching err. A
// cancelled request context is not treated as a server fault. Anything else
// is logged and reported as 500 without leaking its message.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		code := m.Code
		if code == "" {
			code = codeFor(m.Status)
		}
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		ErrorWithCode(w, m.Status, code, msg)
		return
	}

	log := ctxlog.FromContext(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		log.Info("request cancelled", "error", err)
		ErrorWithCode(w, statusClientClosed, CodeBadRequest, "request cancelled")
		return
	}

	log.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
