package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/types"
)

// Wallet authentication headers
const (
	HeaderWalletAddress   = "X-Wallet-Address"
	HeaderWalletSignature = "X-Wallet-Signature"
	HeaderWalletMessage   = "X-Wallet-Message" // base64 of the signed text
)

// DefaultSignatureMaxAge bounds the age of a timestamped signed message
const DefaultSignatureMaxAge = 5 * time.Minute

var timestampPattern = regexp.MustCompile(`Timestamp:\s*(\d+)`)

type walletContextKey struct{}

// WalletFromContext returns the authenticated, lowercased wallet address
func WalletFromContext(ctx context.Context) (string, bool) {
	wallet, ok := ctx.Value(walletContextKey{}).(string)
	return wallet, ok && wallet != ""
}

// WalletAuth authenticates requests signed by a wallet
type WalletAuth struct {
	verify SignatureVerifier
	admins map[string]struct{}
	maxAge time.Duration
	now    func() time.Time
}

// NewWalletAuth creates the wallet authenticator. admins are matched case-insensitively.
func NewWalletAuth(verify SignatureVerifier, admins []string, maxAge time.Duration) *WalletAuth {
	if maxAge <= 0 {
		maxAge = DefaultSignatureMaxAge
	}
	set := make(map[string]struct{}, len(admins))
	for _, admin := range admins {
		if a := types.NormalizeAddress(admin); a != "" {
			set[a] = struct{}{}
		}
	}
	return &WalletAuth{verify: verify, admins: set, maxAge: maxAge, now: time.Now}
}

// IsAdmin reports whether wallet is on the admin allow-list
func (a *WalletAuth) IsAdmin(wallet string) bool {
	_, ok := a.admins[types.NormalizeAddress(wallet)]
	return ok
}

// RequireWallet verifies the wallet signature headers and stores the wallet in the request context.
func (a *WalletAuth) RequireWallet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := strings.TrimSpace(r.Header.Get(HeaderWalletAddress))
		signature := strings.TrimSpace(r.Header.Get(HeaderWalletSignature))
		encoded := strings.TrimSpace(r.Header.Get(HeaderWalletMessage))

		if address == "" || signature == "" || encoded == "" {
			respondError(w, http.StatusBadRequest, ErrCodeMissingFields, "Wallet address, signature and message are required", nil)
			return
		}
		if !types.IsValidAddress(address) {
			respondError(w, http.StatusBadRequest, "INVALID_ADDRESS", "Invalid wallet address", map[string]interface{}{
				"address": address,
			})
			return
		}

		message, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Wallet message must be base64 encoded", nil)
			return
		}

		if !a.fresh(string(message)) {
			respondServiceError(w, r, apperrors.NewUnauthorizedError("Signature has expired"))
			return
		}
		if a.verify == nil || !a.verify(string(message), signature, address) {
			respondServiceError(w, r, apperrors.NewUnauthorizedError("Invalid signature"))
			return
		}

		ctx := context.WithValue(r.Context(), walletContextKey{}, types.NormalizeAddress(address))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects authenticated wallets that are not on the allow-list.
// It must run after RequireWallet.
func (a *WalletAuth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet, ok := WalletFromContext(r.Context())
		if !ok {
			respondServiceError(w, r, apperrors.NewUnauthorizedError("Wallet authentication required"))
			return
		}
		if !a.IsAdmin(wallet) {
			respondServiceError(w, r, apperrors.NewForbiddenError("Admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// fresh checks the optional "Timestamp: <unix-ms>" line of a signed message
func (a *WalletAuth) fresh(message string) bool {
	match := timestampPattern.FindStringSubmatch(message)
	if match == nil {
		return true
	}
	ms, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return false
	}
	age := a.now().Sub(time.UnixMilli(ms))
	if age < 0 {
		age = -age
	}
	return age <= a.maxAge
}
