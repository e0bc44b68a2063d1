package loom_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mbaranowski/loom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want loom.ErrorKind
	}{
		{"auth", &loom.AuthError{Message: "bad token"}, loom.ErrorKindAuth},
		{"credits", &loom.CreditsError{Message: "empty"}, loom.ErrorKindCredits},
		{"monthly", &loom.MonthlyLimitError{Message: "cap"}, loom.ErrorKindMonthlyLimit},
		{"user", &loom.UserLimitError{Message: "cap"}, loom.ErrorKindUserLimit},
		{"model", &loom.ModelError{ProviderID: "p", ModelID: "m", Message: "500"}, loom.ErrorKindModel},
		{"free usage", &loom.FreeUsageLimitError{RetryAfter: 60}, loom.ErrorKindFreeUsage},
		{"subscription usage", &loom.SubscriptionUsageLimitError{RetryAfter: 120}, loom.ErrorKindSubscriptionUse},
		{"structured output", &loom.StructuredOutputError{Message: "no capture", Retries: 2}, loom.ErrorKindStructuredOutput},
		{"cancellation", &loom.CancellationError{}, loom.ErrorKindCancelled},
		{"context cancelled", context.Canceled, loom.ErrorKindCancelled},
		{"deadline treated as cancellation", context.DeadlineExceeded, loom.ErrorKindCancelled},
		{"wrapped", fmt.Errorf("pre-turn gate: %w", &loom.AuthError{Message: "nope"}), loom.ErrorKindAuth},
		{"unknown", errors.New("mystery"), loom.ErrorKindUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := loom.Classify(tc.err)
			require.NotNil(t, got)
			assert.Equal(t, tc.want, got.Kind)
		})
	}

	t.Run("nil error", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, loom.Classify(nil))
	})

	t.Run("retry after carried through", func(t *testing.T) {
		t.Parallel()
		got := loom.Classify(&loom.FreeUsageLimitError{RetryAfter: 43_200})
		assert.Equal(t, 43_200, got.RetryAfter)
	})

	t.Run("retries carried through", func(t *testing.T) {
		t.Parallel()
		got := loom.Classify(&loom.StructuredOutputError{Message: "m", Retries: 3})
		assert.Equal(t, 3, got.Retries)
	})
}
