package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vouch/pkg/email"
	"vouch/pkg/platform/httputil"
	"vouch/pkg/requestcontext"
)

type OTPService interface {
	Issue(ctx context.Context, principalEmail string) (string, error)
	Verify(ctx context.Context, principalEmail, code string) (bool, error)
}

// OTPHandler exposes the step-up challenge flow for admins. In dev mode the
// issued code is echoed in the response; in production it only travels
// through the delivery channel.
type OTPHandler struct {
	service OTPService
	logger  *slog.Logger
	devMode bool
}

func NewOTPHandler(service OTPService, logger *slog.Logger, devMode bool) *OTPHandler {
	return &OTPHandler{service: service, logger: logger, devMode: devMode}
}

func (h *OTPHandler) Register(r chi.Router) {
	r.Post("/admin/otp/issue", h.HandleIssue)
	r.Post("/admin/otp/verify", h.HandleVerify)
}

type issueRequest struct {
	Email string `json:"email"`
}

func (r issueRequest) Validate() error {
	if !email.Valid(email.Normalize(r.Email)) {
		return errors.New("a valid email is required")
	}
	return nil
}

func (h *OTPHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[issueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	code, err := h.service.Issue(ctx, req.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := map[string]string{"status": "issued"}
	if h.devMode {
		resp["code"] = code
	}
	httputil.WriteJSON(w, http.StatusAccepted, resp)
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (r verifyRequest) Validate() error {
	if !email.Valid(email.Normalize(r.Email)) {
		return errors.New("a valid email is required")
	}
	if r.Code == "" {
		return errors.New("code is required")
	}
	return nil
}

func (h *OTPHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[verifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	verified, err := h.service.Verify(ctx, req.Email, req.Code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "step-up verified",
		"request_id", requestID,
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"verified": verified})
}
