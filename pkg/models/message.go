package models

import (
	"math/rand"
	"reflect"
)

// Message represents a single delivery of a message from a queue.
// - ID is assigned by the queue and is unique with in that queue
// - Receipt is unique to the delivery
// It's important to understand the difference between ID and Receipt. A
// message that is delivered twice keeps its ID, but has a new Receipt each
// time, and only the latest Receipt can be used to delete it.
type Message struct {
	ID      string
	Body    []byte
	Receipt Receipt
}

// Equal checks the equality of messages against each other
func (m Message) Equal(other Message) bool {
	return m.ID == other.ID &&
		m.Receipt == other.Receipt &&
		reflect.DeepEqual(m.Body, other.Body)
}

// Generate allows Message to be used within quickcheck scenarios.
func (Message) Generate(r *rand.Rand, size int) reflect.Value {
	msg, err := GenerateMessage(r)
	if err != nil {
		panic(err)
	}
	return reflect.ValueOf(msg)
}

// GenerateMessage creates a new message with random content.
func GenerateMessage(rnd *rand.Rand) (msg Message, err error) {
	// ID generation
	msg.ID = randomString(rnd, rnd.Intn(10)+20)

	// Receipt generation
	msg.Receipt = Receipt(randomString(rnd, rnd.Intn(10)+24))

	// Body generation
	{
		dst := make([]byte, rnd.Intn(10)+48)
		if _, err = rnd.Read(dst); err != nil {
			return
		}
		msg.Body = dst
	}

	return
}

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(rnd *rand.Rand, n int) string {
	b := make([]byte, n)
	for k := range b {
		b[k] = alphabet[rnd.Intn(len(alphabet))]
	}
	return string(b)
}
