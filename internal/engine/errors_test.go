package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/membersync/internal/store"
	"github.com/roach88/membersync/internal/transform"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"validation", &transform.ValidationError{Field: "gender", Message: "unmapped"}, ClassValidation},
		{"wrapped validation", fmt.Errorf("apply: %w", &transform.ValidationError{Field: "x"}), ClassValidation},
		{"target absent", fmt.Errorf("merge: %w", ErrTargetAbsent), ClassTargetAbsent},
		{"claim lost from target", store.ErrClaimLost, ClassTransient},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"breaker open", gobreaker.ErrOpenState, ClassTransient},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, ClassTransient},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, ClassValidation},
		{"explicit permanent", NewPermanent(errors.New("400 bad request"), nil), ClassValidation},
		{"explicit transient", NewTransient(errors.New("502"), map[string]string{"status": "502"}), ClassTransient},
		{"unknown", errors.New("something odd"), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsTransientIsPermanent(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsPermanent(nil))

	assert.True(t, IsTransient(errors.New("timeout")))
	assert.False(t, IsPermanent(errors.New("timeout")))

	assert.True(t, IsPermanent(ErrTargetAbsent))
	assert.False(t, IsTransient(ErrTargetAbsent))

	assert.False(t, IsPermanent(store.ErrClaimLost))
	assert.True(t, IsTransient(store.ErrClaimLost))
}

func TestSyncError_Format(t *testing.T) {
	cause := errors.New("503 service unavailable")
	err := &SyncError{Class: ClassTransient, ChangeID: "c-1", Err: cause}

	assert.Equal(t, "transient: 503 service unavailable (change=c-1)", err.Error())
	assert.ErrorIs(t, err, cause)

	withMsg := &SyncError{Class: ClassValidation, Message: "bad payload"}
	assert.Equal(t, "validation: bad payload", withMsg.Error())
}
