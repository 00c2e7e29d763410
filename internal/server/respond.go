package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"smartmint/internal/errkind"
	"smartmint/internal/idempotency"
	"smartmint/internal/session"
)

var kindStatus = map[errkind.Kind]int{
	errkind.NoWalletProvider:     http.StatusServiceUnavailable,
	errkind.UserRejected:         http.StatusForbidden,
	errkind.InsufficientFunds:    http.StatusPaymentRequired,
	errkind.NetworkError:         http.StatusBadGateway,
	errkind.NoWorkingContract:    http.StatusUnprocessableEntity,
	errkind.NoCompatibleFunction: http.StatusUnprocessableEntity,
	errkind.Unauthorized:         http.StatusForbidden,
	errkind.AlreadyInProgress:    http.StatusConflict,
	errkind.NoSmartAccount:       http.StatusConflict,
	errkind.Unknown:              http.StatusInternalServerError,
}

type errorBody struct {
	Error string       `json:"error"`
	Kind  errkind.Kind `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"error","kind"}. Request validation failures
// are reported as 400 with kind Unknown.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errInvalidAddress), errors.Is(err, errInvalidBody), errors.Is(err, session.ErrNoOwner):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: errkind.Unknown})
		return
	case errors.Is(err, session.ErrAccountExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: session.ErrAccountExists.Error(), Kind: errkind.Unknown})
		return
	case errors.Is(err, idempotency.ErrKeyReused):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Kind: errkind.Unknown})
		return
	}

	kind := errkind.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: kind.Message(), Kind: kind})
}

// writeUnauthenticated matches the body the auth middleware sends.
func writeUnauthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "request is not authenticated", "kind": "Unauthenticated"})
}
