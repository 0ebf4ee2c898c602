package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/kuitang/shastra/internal/auth"
	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/profile"
	"github.com/kuitang/shastra/internal/support"
)

const maxWebhookBody = 1 << 20

type conversationRequest struct {
	Title    string `json:"title"`
	Category string `json:"category"`
}

func (h *Handler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.Chat.ListConversations(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		fail(w, r, "conversation_list_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (h *Handler) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var in conversationRequest
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "conversation_create_failed", err)
		return
	}
	c, err := h.Chat.CreateConversation(r.Context(), auth.GetUserID(r.Context()), in.Title, in.Category)
	if err != nil {
		fail(w, r, "conversation_create_failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	thread, err := h.Chat.GetConversation(r.Context(), auth.GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		fail(w, r, "conversation_get_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (h *Handler) HandleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var in conversationRequest
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "conversation_rename_failed", err)
		return
	}
	if err := h.Chat.RenameConversation(r.Context(), auth.GetUserID(r.Context()), r.PathValue("id"), in.Title); err != nil {
		fail(w, r, "conversation_rename_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id"), "title": strings.TrimSpace(in.Title)})
}

func (h *Handler) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.Chat.DeleteConversation(r.Context(), auth.GetUserID(r.Context()), r.PathValue("id")); err != nil {
		fail(w, r, "conversation_delete_failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListQuizzes(w http.ResponseWriter, r *http.Request) {
	list, err := h.Quiz.List(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		fail(w, r, "quiz_list_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quizzes": list})
}

func (h *Handler) HandleGetQuiz(w http.ResponseWriter, r *http.Request) {
	view, err := h.Quiz.Get(r.Context(), auth.GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		fail(w, r, "quiz_get_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type submitRequest struct {
	Answers []int `json:"answers"`
}

func (h *Handler) HandleSubmitQuiz(w http.ResponseWriter, r *http.Request) {
	var in submitRequest
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "quiz_submit_failed", err)
		return
	}
	res, err := h.Quiz.Submit(r.Context(), auth.GetUserID(r.Context()), r.PathValue("id"), in.Answers)
	if err != nil {
		fail(w, r, "quiz_submit_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	report, err := h.Quiz.Progress(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		fail(w, r, "progress_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.Profile.Get(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		fail(w, r, "profile_get_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in profile.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "profile_update_failed", err)
		return
	}
	p, err := h.Profile.Update(r.Context(), auth.GetUserID(r.Context()), in)
	if err != nil {
		fail(w, r, "profile_update_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleUploadAvatar accepts the image as a multipart "avatar" field or as
// the raw request body.
func (h *Handler) HandleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, profile.MaxAvatarBytes+64<<10)
	data, err := readAvatar(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errs.Write(w, errs.New(errs.InvalidArgument, "avatar must be at most 2 MiB"))
			return
		}
		errs.Write(w, errs.Wrap(errs.InvalidArgument, "could not read avatar upload", err))
		return
	}
	p, err := h.Profile.UploadAvatar(r.Context(), auth.GetUserID(r.Context()), data)
	if err != nil {
		fail(w, r, "avatar_upload_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func readAvatar(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("avatar")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

func (h *Handler) HandleRemoveAvatar(w http.ResponseWriter, r *http.Request) {
	p, err := h.Profile.RemoveAvatar(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		fail(w, r, "avatar_remove_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	var in support.FeedbackInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "feedback_failed", err)
		return
	}
	f, err := h.Support.SubmitFeedback(r.Context(), auth.GetUserID(r.Context()), in)
	if err != nil {
		fail(w, r, "feedback_failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *Handler) HandleContact(w http.ResponseWriter, r *http.Request) {
	var in support.ContactInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "contact_failed", err)
		return
	}
	c, err := h.Support.SubmitContact(r.Context(), in)
	if err != nil {
		fail(w, r, "contact_failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": c.ID, "status": c.Status})
}

// HandleWebhook verifies and applies a gateway notification. Gateways retry
// on non-2xx, so only verification failures are reported as client errors.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		errs.Write(w, errs.Wrap(errs.InvalidArgument, "could not read webhook body", err))
		return
	}
	gateway := r.PathValue("gateway")
	if err := h.Billing.HandleWebhook(r.Context(), gateway, payload, r.Header); err != nil {
		log.Printf("[BILLING] Webhook from %s rejected: %v", gateway, err)
		fail(w, r, "billing_webhook_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
