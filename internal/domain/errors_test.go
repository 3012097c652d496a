package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMergeInProgress(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "merge in progress error",
			err:  ErrVersionMergeInProgress,
			want: true,
		},
		{
			name: "wrapped merge in progress error",
			err:  fmt.Errorf("merge version v1: %w", ErrVersionMergeInProgress),
			want: true,
		},
		{
			name: "other error",
			err:  ErrVersionNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMergeInProgress(tt.err); got != tt.want {
				t.Errorf("IsMergeInProgress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		kind ErrorKind
	}{
		{"live recalculation", ErrOrderCanNotBeRecalculated, "ORDER_CAN_NOT_BE_RECALCULATED", KindPrecondition},
		{"deleted version", fmt.Errorf("merge: %w", ErrVersionNotFound), "VERSION_NOT_FOUND", KindNotFound},
		{"locked merge", ErrVersionMergeInProgress, "VERSION_MERGE_IN_PROGRESS", KindConflict},
		{"joined", errors.Join(errors.New("ctx"), ErrShippingPriceNotFound), "SHIPPING_PRICE_NOT_FOUND", KindPrecondition},
		{"unknown", errors.New("disk full"), "INTERNAL", KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, kind := Classify(tt.err)
			if code != tt.code || kind != tt.kind {
				t.Errorf("Classify() = (%s, %s), want (%s, %s)", code, kind, tt.code, tt.kind)
			}
		})
	}
}
