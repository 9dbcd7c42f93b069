package repository

import (
	"context"

	"github.com/sandeepkv93/identity-core/internal/observability"
)

func recordOutcome(ctx context.Context, entity, op, outcome string) {
	observability.RecordRepositoryOperation(context.WithoutCancel(ctx), entity, op, outcome)
}
