package main

import (
	"context"
	"errors"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/clinic-api/internal/service"
)

var _ purger = (*service.RefreshStore)(nil)

type countingPurger struct {
	calls int
	err   error
}

func (p *countingPurger) Cleanup(ctx context.Context) (int64, error) {
	p.calls++
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("cleanup must run under a deadline")
	}
	return 3, p.err
}

func TestPurge(t *testing.T) {
	p := &countingPurger{}
	purge(p)
	purge(&countingPurger{err: errors.New("db down")})
	assert.Equal(t, 1, p.calls)
}

func TestDefaultScheduleParses(t *testing.T) {
	_, err := cron.ParseStandard("@hourly")
	assert.NoError(t, err)
	_, err = cron.ParseStandard("not a schedule")
	assert.Error(t, err)
}
