package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/smartdevs17/financial-tracker/internal/ledger"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Transactions

func (s *HTTPServer) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.ledger.ListTransactions(r.Context(), currentUser(r), ledger.ParseFilter(r.URL.Query()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *HTTPServer) createTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var in ledger.TransactionInput
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	tx, err := s.ledger.CreateTransaction(r.Context(), currentUser(r), &in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tx)
}

func (s *HTTPServer) getTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	tx, err := s.ledger.GetTransaction(r.Context(), currentUser(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

// updateTransactionHandler serves PUT (full) and PATCH (partial)
func (s *HTTPServer) updateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var in ledger.TransactionInput
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	tx, err := s.ledger.UpdateTransaction(r.Context(), currentUser(r), id, &in, r.Method == http.MethodPatch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

func (s *HTTPServer) deleteTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.ledger.DeleteTransaction(r.Context(), currentUser(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.WithField("transaction_id", id).Debug("Transaction was successfully deleted")
	w.WriteHeader(http.StatusNoContent)
}

// Categories

func (s *HTTPServer) listCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	categories, err := s.ledger.ListCategories(r.Context(), currentUser(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, categories)
}

func (s *HTTPServer) createCategoryHandler(w http.ResponseWriter, r *http.Request) {
	var in ledger.CategoryInput
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	category, err := s.ledger.CreateCategory(r.Context(), currentUser(r), &in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, category)
}

func (s *HTTPServer) getCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	category, err := s.ledger.GetCategory(r.Context(), currentUser(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, category)
}

func (s *HTTPServer) updateCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var in ledger.CategoryInput
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	category, err := s.ledger.UpdateCategory(r.Context(), currentUser(r), id, &in, r.Method == http.MethodPatch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, category)
}

func (s *HTTPServer) deleteCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.ledger.DeleteCategory(r.Context(), currentUser(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Balance

// balanceHandler answers 201 when the balance was created by this request
func (s *HTTPServer) balanceHandler(w http.ResponseWriter, r *http.Request) {
	detail, created, err := s.ledger.GetBalance(r.Context(), currentUser(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, detail)
}

func (s *HTTPServer) balanceResetHandler(w http.ResponseWriter, r *http.Request) {
	detail, err := s.ledger.ResetBalance(r.Context(), currentUser(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Balance reset to zero, all transactions and categories were deleted",
		"balance": detail,
	})
}

var errIncorrectAmount = utils.NewAppError(utils.ErrCodeValidation, "Incorrect amount", "amount")

// parseAdjustAmount accepts a JSON number or numeric string. A missing, empty
// or zero amount yields a zero decimal.
func parseAdjustAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return decimal.Zero, nil
	}

	var amount decimal.Decimal
	if err := json.Unmarshal(raw, &amount); err != nil {
		return decimal.Zero, errIncorrectAmount
	}
	return amount, nil
}

func (s *HTTPServer) balanceAdjustHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount json.RawMessage `json:"amount"`
		Reason string          `json:"reason"`
	}
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAdjustAmount(in.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	detail, err := s.ledger.AdjustBalance(r.Context(), currentUser(r), amount, in.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Balance adjusted to " + amount.String(),
		"balance": detail,
	})
}

// Currencies

func (s *HTTPServer) listCurrenciesHandler(w http.ResponseWriter, r *http.Request) {
	currencies, err := s.currencies.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, currencies)
}

func (s *HTTPServer) getCurrencyHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.currencies.Get(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// refreshCurrenciesHandler pulls fresh rates; staff only
func (s *HTTPServer) refreshCurrenciesHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.accounts.Profile(r.Context(), currentUser(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !user.IsStaff {
		s.writeError(w, utils.NewAppError(utils.ErrCodeForbidden,
			"You do not have permission to perform this action."))
		return
	}

	result, err := s.currencies.UpdateDatabase(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// convertHandler reads amount, from_currency and to_currency from the query
// string (GET) or the JSON body (POST)
func (s *HTTPServer) convertHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount json.RawMessage `json:"amount"`
		From   string          `json:"from_currency"`
		To     string          `json:"to_currency"`
	}

	if r.Method == http.MethodGet {
		query := r.URL.Query()
		if v := query.Get("amount"); v != "" {
			in.Amount, _ = json.Marshal(v)
		}
		in.From = query.Get("from_currency")
		in.To = query.Get("to_currency")
	} else if err := readJSON(r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	amount, err := parseAdjustAmount(in.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if in.From == "" || in.To == "" {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation,
			"from_currency and to_currency are required"))
		return
	}

	conversion, err := s.currencies.Convert(r.Context(), amount, in.From, in.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conversion)
}
