package exchange

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// Do executes req inside scope. If the enclosing operation fails, both legs
// are reversed through assets, which must share the venue's balance book.
func Do(scope domain.TxScope, ex domain.Exchange, assets domain.AssetTransfer, req domain.SwapRequest) (*big.Int, error) {
	fill, err := ex.Swap(scope.Context(), req)
	if err != nil {
		return nil, fmt.Errorf("exchange: swap %s: %w", req.Route, err)
	}
	in, out := req.Route.From(), req.Route.To()
	scope.Defer(func(ctx context.Context) error {
		if err := assets.TransferFrom(ctx, out, req.Recipient, fill.Venue, fill.AmountOut); err != nil {
			return fmt.Errorf("exchange: return output: %w", err)
		}
		if err := assets.TransferFrom(ctx, in, fill.Venue, req.Payer, req.AmountIn); err != nil {
			return fmt.Errorf("exchange: return input: %w", err)
		}
		return nil
	})
	if req.MinOut != nil && fill.AmountOut.Cmp(req.MinOut) < 0 {
		return nil, fmt.Errorf("exchange: output %s below minimum %s: %w", fill.AmountOut, req.MinOut, domain.ErrInsufficientOutput)
	}
	return domain.Clone(fill.AmountOut), nil
}
