package queue

import (
	"context"
	"time"

	"github.com/trussle/redrive/pkg/models"
)

type nopQueue struct{}

func newNopQueue() Queue {
	return nopQueue{}
}

func (nopQueue) Receive(context.Context, string, int, time.Duration, time.Duration) ([]models.Message, error) {
	return make([]models.Message, 0), nil
}

func (nopQueue) SendBatch(_ context.Context, _ string, entries []SendEntry) (Result, error) {
	res := Result{Succeeded: make([]string, len(entries))}
	for k, v := range entries {
		res.Succeeded[k] = v.ID
	}
	return res, nil
}

func (nopQueue) DeleteBatch(_ context.Context, _ string, entries []DeleteEntry) (Result, error) {
	res := Result{Succeeded: make([]string, len(entries))}
	for k, v := range entries {
		res.Succeeded[k] = v.ID
	}
	return res, nil
}
