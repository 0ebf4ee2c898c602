package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kuitang/shastra/internal/ai"
	"github.com/kuitang/shastra/internal/billing"
	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/obs"
	"github.com/kuitang/shastra/internal/usage"
)

const maxJSONBody = 64 << 10

// classify gives uncoded sentinel errors from the services a client-facing
// code. Coded errors pass through unchanged.
func classify(err error) error {
	var coded *errs.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, billing.ErrSignatureMismatch):
		return errs.Wrap(errs.FailedPrecondition,
			fmt.Sprintf("payment verification failed; contact support with order %s", orderFromError(err)), err)
	case errors.Is(err, billing.ErrUnknownPlan):
		return errs.Wrap(errs.InvalidArgument, "unknown plan", err)
	case errors.Is(err, billing.ErrOrderNotFound):
		return errs.Wrap(errs.NotFound, "order not found", err)
	case errors.Is(err, billing.ErrInvalidWebhook):
		return errs.Wrap(errs.InvalidArgument, "invalid webhook", err)
	case errors.Is(err, ai.ErrUnavailable):
		return errs.Wrap(errs.Unavailable, "the scripture assistant is unavailable, please try again", err)
	case errors.Is(err, usage.ErrLimitReached):
		return errs.Wrap(errs.ResourceExhausted, "usage limit reached for your plan", err)
	case errors.Is(err, db.ErrNotFound):
		return errs.Wrap(errs.NotFound, "not found", err)
	}
	return err
}

// orderFromError pulls the order id out of "...: order <id>".
func orderFromError(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, "order "); i >= 0 {
		return strings.TrimSpace(msg[i+len("order "):])
	}
	return "unknown"
}

func fail(w http.ResponseWriter, r *http.Request, event string, err error) {
	err = classify(err)
	if errs.CodeOf(err) == errs.Internal {
		obs.From(r.Context()).Error(event, "err", err)
	}
	errs.Write(w, err)
}

// decodeJSON decodes a bounded JSON body. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errs.Wrap(errs.InvalidArgument, "invalid request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
