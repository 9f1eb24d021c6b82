// graphql.go - Minimal GraphQL endpoint over the local ledger.

package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"zkapp/internal/network"
	"zkapp/internal/txn"
)

const maxRequestBytes = 4 << 20

// Handler answers the two operations network.Client issues: the Account
// query and the SendZkapp mutation.
func (l *Ledger) Handler() http.Handler {
	return http.HandlerFunc(l.serveGraphQL)
}

func (l *Ledger) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req network.GraphQLRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, "malformed GraphQL request", http.StatusBadRequest)
		return
	}

	switch operation(&req) {
	case "Account":
		address, _ := req.Variables["publicKey"].(string)
		acct, err := l.FetchAccount(r.Context(), address)
		switch {
		case errors.Is(err, network.ErrAccountNotFound):
			writeData(w, network.AccountData{})
		case err != nil:
			writeErrors(w, badRequest(err))
		default:
			writeData(w, network.AccountData{Account: network.FromAccount(acct)})
		}

	case "SendZkapp":
		encoded, _ := req.Variables["transaction"].(string)
		tx, err := txn.Decode(encoded)
		if err != nil {
			writeErrors(w, badRequest(err))
			return
		}
		hash, err := l.Submit(r.Context(), tx)
		if err != nil {
			l.logger.Warn().Err(err).Msg("transaction rejected")
			writeErrors(w, network.GraphQLError{Message: err.Error()})
			return
		}
		var data network.SendZkappData
		data.SendZkapp.Hash = hash
		writeData(w, data)

	default:
		writeErrors(w, network.GraphQLError{
			Message: "unsupported operation " + req.OperationName,
			Code:    "BAD_REQUEST",
		})
	}
}

// operation prefers the declared operation name and falls back to
// sniffing the document.
func operation(req *network.GraphQLRequest) string {
	if req.OperationName != "" {
		return req.OperationName
	}
	switch {
	case strings.Contains(req.Query, "sendZkapp"):
		return "SendZkapp"
	case strings.Contains(req.Query, "account("):
		return "Account"
	}
	return ""
}

func badRequest(err error) network.GraphQLError {
	return network.GraphQLError{Message: err.Error(), Code: "BAD_REQUEST"}
}

func writeData(w http.ResponseWriter, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, network.GraphQLResponse{Data: raw})
}

func writeErrors(w http.ResponseWriter, errs ...network.GraphQLError) {
	writeJSON(w, network.GraphQLResponse{Errors: errs})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
