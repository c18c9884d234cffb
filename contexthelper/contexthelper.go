package contexthelper

import "context"

// CheckCancellation returns the context error if ctx is already cancelled or expired.
func CheckCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
