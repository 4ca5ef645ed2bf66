package broker

import "fmt"

// AuthError reports a failed login or terminal init. Fatal for the
// reconciliation loop: credentials are operator-fixed, never retried.
type AuthError struct {
	Login  int64
	Server string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authenticate %d@%s: %s", e.Login, e.Server, e.Reason)
}

// OrderError reports a rejected place/close/modify. Recoverable: the
// loop logs it and retries on the next cycle. Retcode carries the
// terminal's numeric return code for diagnosis.
type OrderError struct {
	Op      string // "place", "close", "modify"
	Symbol  string
	Ticket  int64
	Retcode int
	Reason  string
}

func (e *OrderError) Error() string {
	if e.Ticket != 0 {
		return fmt.Sprintf("%s %s ticket %d: retcode %d: %s", e.Op, e.Symbol, e.Ticket, e.Retcode, e.Reason)
	}
	return fmt.Sprintf("%s %s: retcode %d: %s", e.Op, e.Symbol, e.Retcode, e.Reason)
}
