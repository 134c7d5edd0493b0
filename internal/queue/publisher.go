package queue

import (
    "context"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/clinic-api/internal/logger"
    "github.com/iliyamo/clinic-api/internal/model"
)

// Publisher sends security events to the auth.security queue.  The
// connection is dialed lazily and re-dialed after the broker drops it; each
// publish uses its own channel since channels are not safe for concurrent use.
type Publisher struct {
    url string

    mu   sync.Mutex
    conn *amqp.Connection
}

func NewPublisher(url string) *Publisher {
    return &Publisher{url: url}
}

func (p *Publisher) connection() (*amqp.Connection, error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.conn != nil && !p.conn.IsClosed() {
        return p.conn, nil
    }
    // Publishing happens on the request path, so a dead broker must fail
    // fast and let the caller fall back.
    conn, err := amqp.DialConfig(p.url, amqp.Config{
        Heartbeat: 10 * time.Second,
        Locale:    "en_US",
        Dial:      amqp.DefaultDial(2 * time.Second),
    })
    if err != nil {
        return nil, err
    }
    p.conn = conn
    return conn, nil
}

// Record publishes entry as a persistent message.  Errors are logged and
// returned; callers treat them as non-fatal.
func (p *Publisher) Record(ctx context.Context, entry model.AuditLog) error {
    conn, err := p.connection()
    if err != nil {
        logger.Warn().Err(err).Msg("rabbitmq: dial failed")
        return err
    }
    ch, err := conn.Channel()
    if err != nil {
        logger.Warn().Err(err).Msg("rabbitmq: channel open failed")
        return err
    }
    defer func() { _ = ch.Close() }()

    if _, err := ch.QueueDeclare(SecurityQueue, true, false, false, false, nil); err != nil {
        logger.Warn().Err(err).Msg("rabbitmq: queue declare failed")
        return err
    }
    body, err := encodeEvent(entry)
    if err != nil {
        return err
    }
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Type:         entry.Event,
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", SecurityQueue, false, false, pub); err != nil {
        logger.Warn().Err(err).Str("event", entry.Event).Msg("rabbitmq: publish failed")
        return err
    }
    return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.conn == nil {
        return nil
    }
    err := p.conn.Close()
    p.conn = nil
    return err
}
