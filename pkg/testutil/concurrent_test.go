package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "callgate/pkg/domain-errors"
)

func TestRunConcurrentBucketsByCode(t *testing.T) {
	res := RunConcurrent(12, func(idx int) error {
		switch idx % 4 {
		case 0:
			return nil
		case 1:
			return dErrors.New(dErrors.CodeRateLimited, "wait")
		case 2:
			return dErrors.Wrap(errors.New("dial"), dErrors.CodeStoreUnavailable, "down")
		default:
			return errors.New("boom")
		}
	})

	assert.Equal(t, int32(3), res.Successes)
	assert.Equal(t, int32(3), res.RateLimited)
	assert.Equal(t, int32(3), res.Unavailable)
	assert.Equal(t, int32(3), res.Errors)
	assert.Equal(t, int32(12), res.Total())
}

func TestRunConcurrentCollect(t *testing.T) {
	ok, errs := RunConcurrentCollect(5, func(idx int) error {
		if idx == 0 {
			return errors.New("first fails")
		}
		return nil
	})
	assert.Equal(t, int32(4), ok)
	assert.Len(t, errs, 1)
}
