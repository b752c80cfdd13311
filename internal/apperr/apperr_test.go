package apperr

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantOK   bool
	}{
		{name: "network", err: Network(errors.New("dial tcp")), wantKind: KindNetwork, wantOK: true},
		{name: "validation", err: Validation("coupon expired"), wantKind: KindValidation, wantOK: true},
		{name: "wrapped auth", err: errors.Wrap(Auth("token expired"), "load session"), wantKind: KindAuth, wantOK: true},
		{name: "not found", err: NotFound("order not found"), wantKind: KindNotFound, wantOK: true},
		{name: "plain error", err: errors.New("boom"), wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindOf(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestNetwork_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := errors.Wrap(Network(cause), "validate coupon")

	require.ErrorIs(t, err, cause)
	assert.True(t, Is(err, KindNetwork))
	assert.False(t, Is(err, KindValidation))
}

func TestIsTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "dial failure", err: errors.Wrap(Network(errors.New("dial tcp")), "validate coupon"), want: true},
		{name: "bad gateway", err: Upstream(502, errors.New("backend status 502")), want: false},
		{name: "validation", err: Validation("coupon expired"), want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransport(tt.err))
		})
	}
	assert.True(t, Is(Upstream(503, nil), KindNetwork))
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "below minimum purchase", MessageOf(Validation("below minimum purchase"), "x"))
	assert.Equal(t, "fallback", MessageOf(errors.New("raw"), "fallback"))
}
