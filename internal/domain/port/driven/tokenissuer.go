package driven

import (
	"context"

	"github.com/winterhq/tokenforge/internal/domain/model"
)

// TokenIssuer defines the driven port for exchanging one guest credential
// pair for a token at the remote issuing endpoint.
type TokenIssuer interface {
	// FetchToken returns the token for the given account, or an error after
	// the adapter's retry budget is exhausted. Callers drop failed entries
	// from the batch; an error here never aborts the surrounding batch.
	FetchToken(ctx context.Context, account model.GuestAccount) (model.TokenResult, error)
}
