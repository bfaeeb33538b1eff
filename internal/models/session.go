package models

// Session carries the per-request working state for one account: the account
// identity keying all persistence, and the roster once it has been loaded.
// Core operations receive it explicitly instead of reading ambient state.
type Session struct {
	AccountID string
	Roster    *Roster
}

// NewSession builds a session for the given account.
func NewSession(accountID string) *Session {
	return &Session{AccountID: accountID}
}
