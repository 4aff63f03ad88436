// Package trust defines the sender trust port (interface).
package trust

import "context"

// Lookup scores how much a user trusts a sender, in [0,1].
type Lookup interface {
	// SenderTrust returns known=false when there is no signal for sender;
	// the score is then meaningless.
	SenderTrust(ctx context.Context, userID, sender string) (score float64, known bool, err error)
}
