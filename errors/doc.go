// Package errors provides the error taxonomy shared by every llmhub package.
//
// All failures surfaced by the client resolve to an [AppError] carrying one of
// the codes in codes.go. Callers branch on the code (or the Is* helpers)
// rather than on message text:
//
//	turn, err := conv.Send(ctx, llm.UserTurn("hi"))
//	switch {
//	case errors.IsCancelled(err):
//	    // caller gave up; do not retry
//	case errors.IsRetryable(err):
//	    // transient transport failure
//	}
package errors
