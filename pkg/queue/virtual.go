package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/trussle/redrive/pkg/models"
)

// VirtualQueue is an in memory queue service. It honours visibility timeouts
// and rotates receipts on every delivery, which makes it a faithful enough
// stand in for SQS when testing or running locally.
type VirtualQueue struct {
	mutex        sync.Mutex
	queues       map[string]*virtualStore
	unreachable  map[string]bool
	sendFilter   func(queue string, entry SendEntry) bool
	deleteFilter func(queue string, entry DeleteEntry) bool
	now          func() time.Time
	sequence     int
}

type virtualStore struct {
	messages []*virtualMessage
}

type virtualMessage struct {
	id        string
	body      []byte
	receipt   models.Receipt
	visibleAt time.Time
	received  int
}

// NewVirtualQueue creates an empty VirtualQueue.
func NewVirtualQueue() *VirtualQueue {
	return &VirtualQueue{
		queues:      make(map[string]*virtualStore),
		unreachable: make(map[string]bool),
		now:         time.Now,
	}
}

// WithClock replaces the clock used for visibility timeouts.
func (v *VirtualQueue) WithClock(now func() time.Time) *VirtualQueue {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.now = now
	return v
}

// FailSends causes every send entry matching fn to fail.
func (v *VirtualQueue) FailSends(fn func(queue string, entry SendEntry) bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.sendFilter = fn
}

// FailDeletes causes every delete entry matching fn to fail.
func (v *VirtualQueue) FailDeletes(fn func(queue string, entry DeleteEntry) bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.deleteFilter = fn
}

// Unreachable causes every request against the queue to fail as a whole.
func (v *VirtualQueue) Unreachable(queue string) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.unreachable[queue] = true
}

// Len returns the number of messages held by a queue, visible or not.
func (v *VirtualQueue) Len(queue string) int {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if store, ok := v.queues[queue]; ok {
		return len(store.messages)
	}
	return 0
}

// Bodies returns the bodies of every message held by a queue.
func (v *VirtualQueue) Bodies(queue string) []string {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	var res []string
	if store, ok := v.queues[queue]; ok {
		for _, m := range store.messages {
			res = append(res, string(m.body))
		}
	}
	return res
}

// Receive returns visible messages, hiding them for the visibility timeout.
// The virtual queue never blocks, so waitTime is ignored.
func (v *VirtualQueue) Receive(_ context.Context, queue string, max int, visibilityTimeout, _ time.Duration) ([]models.Message, error) {
	if err := checkBatchSize(max); err != nil {
		return nil, err
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()

	if err := v.reachable(queue); err != nil {
		return nil, err
	}

	var (
		now = v.now()
		res = make([]models.Message, 0, max)
	)
	for _, m := range v.store(queue).messages {
		if len(res) >= max {
			break
		}
		if m.visibleAt.After(now) {
			continue
		}

		m.received++
		m.receipt = models.Receipt(fmt.Sprintf("%s-%d", m.id, m.received))
		m.visibleAt = now.Add(visibilityTimeout)

		res = append(res, models.Message{
			ID:      m.id,
			Body:    m.body,
			Receipt: m.receipt,
		})
	}
	return res, nil
}

// SendBatch appends every entry to the queue as a new message.
func (v *VirtualQueue) SendBatch(_ context.Context, queue string, entries []SendEntry) (Result, error) {
	if err := checkBatchSize(len(entries)); err != nil {
		return Result{}, err
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()

	if err := v.reachable(queue); err != nil {
		return Result{}, err
	}

	var (
		res   Result
		store = v.store(queue)
	)
	for _, e := range entries {
		if v.sendFilter != nil && v.sendFilter(queue, e) {
			res.Failed = append(res.Failed, FailedEntry{
				ID:      e.ID,
				Code:    "InternalError",
				Message: "send rejected",
			})
			continue
		}

		v.sequence++
		store.messages = append(store.messages, &virtualMessage{
			id:   fmt.Sprintf("msg-%06d", v.sequence),
			body: append([]byte(nil), e.Body...),
		})
		res.Succeeded = append(res.Succeeded, e.ID)
	}
	return res, nil
}

// DeleteBatch removes the deliveries matching the entries. Only the receipt of
// the latest delivery of a message can delete it.
func (v *VirtualQueue) DeleteBatch(_ context.Context, queue string, entries []DeleteEntry) (Result, error) {
	if err := checkBatchSize(len(entries)); err != nil {
		return Result{}, err
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()

	if err := v.reachable(queue); err != nil {
		return Result{}, err
	}

	var (
		res   Result
		store = v.store(queue)
	)
	for _, e := range entries {
		if v.deleteFilter != nil && v.deleteFilter(queue, e) {
			res.Failed = append(res.Failed, FailedEntry{
				ID:      e.ID,
				Code:    "InternalError",
				Message: "delete rejected",
			})
			continue
		}

		index := -1
		for k, m := range store.messages {
			if m.receipt != "" && m.receipt == e.Receipt {
				index = k
				break
			}
		}
		if index < 0 {
			res.Failed = append(res.Failed, FailedEntry{
				ID:          e.ID,
				Code:        "ReceiptHandleIsInvalid",
				Message:     "receipt does not match a delivery",
				SenderFault: true,
			})
			continue
		}

		store.messages = append(store.messages[:index], store.messages[index+1:]...)
		res.Succeeded = append(res.Succeeded, e.ID)
	}
	return res, nil
}

func (v *VirtualQueue) store(queue string) *virtualStore {
	store, ok := v.queues[queue]
	if !ok {
		store = &virtualStore{}
		v.queues[queue] = store
	}
	return store
}

func (v *VirtualQueue) reachable(queue string) error {
	if queue == "" {
		return errors.New("missing queue reference")
	}
	if v.unreachable[queue] {
		return errors.Errorf("queue %s is unreachable", queue)
	}
	return nil
}
