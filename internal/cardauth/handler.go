package cardauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// DefaultSignatureHeader is used when the provider header name is not
// configured.
const DefaultSignatureHeader = "X-Webhook-Signature"

const maxWebhookBody = 1 << 20

// Handler terminates the card-network webhook: signature check, decode,
// score under deadline, respond.
type Handler struct {
	service *Service
	secret  []byte
	header  string
}

// NewHandler builds the webhook handler. header may be empty for the default.
func NewHandler(service *Service, secret []byte, header string) *Handler {
	if header == "" {
		header = DefaultSignatureHeader
	}
	return &Handler{service: service, secret: secret, header: header}
}

// ServeHTTP implements POST /card/authorize.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.secret, body, r.Header.Get(h.header)) {
		if h.service.metrics != nil {
			h.service.metrics.BadSignatures.Inc()
		}
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var req AuthRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.service.Deadline())
	defer cancel()

	resp := h.service.Authorize(ctx, &req)

	w.Header().Set("Content-Type", "application/json")
	// Too late to change the status on encode failure; the network retries.
	_ = json.NewEncoder(w).Encode(resp)
}
