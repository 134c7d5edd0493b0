package queue

import (
    "context"
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/clinic-api/internal/logger"
    "github.com/iliyamo/clinic-api/internal/model"
)

// AuditWriter persists one event.
type AuditWriter interface {
    Record(ctx context.Context, entry model.AuditLog) error
}

// StartAuditConsumer connects to the broker, declares the durable
// auth.security queue and writes each delivery into the audit log.  It
// reconnects with backoff until ctx is cancelled, then returns ctx.Err().
// Messages that cannot be decoded or stored are rejected without requeue so
// a poison message cannot spin the loop.
func StartAuditConsumer(ctx context.Context, url string, w AuditWriter) error {
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(url)
        if err != nil {
            logger.Warn().Err(err).Dur("retry_in", backoff).Msg("audit-consumer: failed to dial broker")
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, w)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        logger.Warn().Err(err).Msg("audit-consumer: consume loop ended, reconnecting")
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, w AuditWriter) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        logger.Warn().Err(err).Msg("audit-consumer: set QoS failed")
    }
    if _, err := ch.QueueDeclare(SecurityQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(SecurityQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := handleMessage(ctx, w, d.Body); err != nil {
                logger.Error().Err(err).Msg("audit-consumer: handle message failed")
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func handleMessage(ctx context.Context, w AuditWriter, body []byte) error {
    ev, err := decodeEvent(body)
    if err != nil {
        return err
    }
    if ev.OccurredAt.IsZero() {
        ev.OccurredAt = time.Now().UTC()
    }
    wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := w.Record(wctx, ev); err != nil {
        return fmt.Errorf("store audit log: %w", err)
    }
    return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
