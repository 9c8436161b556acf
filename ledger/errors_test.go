package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodesRoundTrip(t *testing.T) {
	for _, kind := range []Kind{
		KindValidation, KindAlreadyExists, KindNotFound, KindAlreadyConsumed, KindExpired,
	} {
		err := errf(kind, "boom")
		code := ABCICode(err)
		back := FromCode(code, err.Error())
		assert.Equal(t, kind, KindOf(back))
		assert.Equal(t, "boom", back.Error())
	}
}

func TestABCICodeForForeignErrors(t *testing.T) {
	assert.Equal(t, uint32(KindInternal), ABCICode(errors.New("disk on fire")))
	assert.Zero(t, KindOf(errors.New("disk on fire")))
}

func TestFromCodeZeroIsNil(t *testing.T) {
	assert.NoError(t, FromCode(0, ""))
}

func TestFromCodeUnknownIsInternal(t *testing.T) {
	err := FromCode(99, "weird")
	assert.Equal(t, KindInternal, KindOf(err))
}
