package main

// Demonstration walkthrough of the broker: basic round trip, timeout
// redelivery, dead-letter routing, and crash recovery from the WAL.
//
// Usage: go run cmd/demo/main.go [dir]
// Run it twice against the same directory to watch recovery replay the
// messages left unfinished by the first run.

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ChuLiYu/beaver-mq/internal/registry"
	"github.com/ChuLiYu/beaver-mq/pkg/types"
)

func main() {
	dir := "data/demo-wal"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	reg := registry.New()
	defer reg.Close()

	q, err := reg.CreateQueue("orders", types.QueueConfig{
		VisibilityTimeout: 500 * time.Millisecond,
		ScanInterval:      100 * time.Millisecond,
		MaxRetries:        2,
		DeadLetterQueue:   "orders-dlq",
		LogDir:            dir,
	})
	if err != nil {
		log.Fatalf("create queue: %v", err)
	}

	ctx := context.Background()

	recovered := q.Stats().Ready
	if recovered > 0 {
		fmt.Printf("recovered %d message(s) from the previous run\n", recovered)
		for i := 0; i < recovered; i++ {
			r, err := q.Consume(ctx)
			if err != nil {
				log.Fatalf("consume recovered: %v", err)
			}
			fmt.Printf("replayed %q (retry_count=%d)\n", r.Message.Payload, r.RetryCount)
			if err := q.Acknowledge(r.Handle); err != nil {
				log.Fatalf("ack: %v", err)
			}
		}
	}

	// Basic round trip.
	if err := q.Publish(types.NewMessage([]byte("Order1"))); err != nil {
		log.Fatalf("publish: %v", err)
	}
	r, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}
	fmt.Printf("consumed %q (retry_count=%d)\n", r.Message.Payload, r.RetryCount)
	if err := q.Acknowledge(r.Handle); err != nil {
		log.Fatalf("ack: %v", err)
	}
	fmt.Println("acknowledged")

	// Timeout redelivery: consume, never finalize, wait for the scanner.
	if err := q.Publish(types.NewMessage([]byte("Order2"))); err != nil {
		log.Fatalf("publish: %v", err)
	}
	first, _ := q.Consume(ctx)
	fmt.Printf("consumed %q, holding past the visibility timeout...\n", first.Message.Payload)
	time.Sleep(800 * time.Millisecond)
	second, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("consume after timeout: %v", err)
	}
	fmt.Printf("redelivered %q under a new handle (retry_count=%d)\n",
		second.Message.Payload, second.RetryCount)
	if err := q.Acknowledge(second.Handle); err != nil {
		log.Fatalf("ack: %v", err)
	}

	// Dead-letter routing: nack past the retry bound.
	if err := q.Publish(types.NewMessage([]byte("Order3"))); err != nil {
		log.Fatalf("publish: %v", err)
	}
	for {
		r, err := q.Consume(ctx)
		if err != nil {
			log.Fatalf("consume: %v", err)
		}
		fmt.Printf("rejecting %q (retry_count=%d)\n", r.Message.Payload, r.RetryCount)
		if err := q.Nack(r.Handle); err != nil {
			log.Fatalf("nack: %v", err)
		}
		if q.Stats().Ready == 0 {
			break
		}
	}

	dlq, err := reg.GetQueue("orders-dlq")
	if err != nil {
		log.Fatalf("get dlq: %v", err)
	}
	dead, err := dlq.Consume(ctx)
	if err != nil {
		log.Fatalf("dlq consume: %v", err)
	}
	fmt.Printf("dead letter received: %q\n", dead.Message.Payload)
	if err := dlq.Acknowledge(dead.Handle); err != nil {
		log.Fatalf("dlq ack: %v", err)
	}

	// Leave one message unconsumed so a second run demonstrates recovery.
	if err := q.Publish(types.NewMessage([]byte("Order4"))); err != nil {
		log.Fatalf("publish: %v", err)
	}
	fmt.Println("left one message in the log; run again to watch recovery")
}
