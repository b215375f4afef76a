package domain

import "context"

// ResolutionNotifier is told who won once a market resolves.
type ResolutionNotifier interface {
	NotifyResolved(ctx context.Context, market PredictionMarket, winners []string) error
}
