// Package sync mirrors messaging traffic into the local store so history,
// contacts and search survive restarts and work offline.
package sync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/confchat/internal/bus"
	"github.com/matheus3301/confchat/internal/messaging"
	"github.com/matheus3301/confchat/internal/model"
	"github.com/matheus3301/confchat/internal/outbox"
	"github.com/matheus3301/confchat/internal/realtime"
	"github.com/matheus3301/confchat/internal/store"
)

// Update is the payload of cache.updated.
type Update struct {
	SessionID int64
	Messages  int
}

// Engine handles idempotent ingestion of messages and contacts into the
// store. It listens on the realtime, messaging and message namespaces.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to the bus and ingests events until ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	rt, unsubRT := e.bus.Subscribe(bus.NamespaceRealtime, 256)
	msging, unsubMsging := e.bus.Subscribe(bus.NamespaceMessaging, 64)
	acks, unsubAcks := e.bus.Subscribe(bus.NamespaceMessage, 64)

	go func() {
		defer unsubRT()
		defer unsubMsging()
		defer unsubAcks()
		for {
			select {
			case evt := <-rt:
				e.handleEvent(evt)
			case evt := <-msging:
				e.handleEvent(evt)
			case evt := <-acks:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case realtime.NewMessage:
		if err := e.IngestMessage(p.Message); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", p.Message.ID))
		}
	case outbox.Ack:
		if err := e.IngestMessage(p.Message); err != nil {
			e.logger.Error("failed to ingest sent message", zap.Error(err), zap.String("client_msg_id", p.ClientMsgID))
		}
	case messaging.Sent:
		if err := e.IngestMessage(p.Message); err != nil {
			e.logger.Error("failed to ingest sent message", zap.Error(err), zap.String("msg_id", p.Message.ID))
		}
	case realtime.MessageRead:
		if err := e.db.MarkMessageRead(p.MessageID); err != nil {
			e.logger.Error("failed to mark message read", zap.Error(err), zap.String("msg_id", p.MessageID))
		}
	case messaging.HistoryLoaded:
		if err := e.IngestHistory(p.SessionID, p.Messages); err != nil {
			e.logger.Error("failed to ingest history", zap.Error(err), zap.Int64("session_id", p.SessionID))
		} else {
			e.logger.Debug("history ingested", zap.Int64("session_id", p.SessionID), zap.Int("messages", len(p.Messages)))
		}
	case messaging.ContactsLoaded:
		if err := e.db.ReplaceContacts(p.ConferenceID, p.Contacts); err != nil {
			e.logger.Error("failed to store contacts", zap.Error(err), zap.Int64("conference_id", p.ConferenceID))
		}
	}
}

// IngestMessage stores one message (idempotent). Messages without a server
// id are local echoes and are skipped.
func (e *Engine) IngestMessage(msg model.Message) error {
	if msg.ID == "" || strings.HasPrefix(msg.ID, messaging.TempIDPrefix) || msg.SessionID == 0 {
		return nil
	}
	if err := e.db.UpsertMessage(msg); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	e.bus.Publish(bus.NewEvent(bus.KindCacheUpdated, Update{SessionID: msg.SessionID, Messages: 1}))
	return nil
}

// IngestHistory stores a page of conversation history in one transaction.
func (e *Engine) IngestHistory(sessionID int64, msgs []model.Message) error {
	batch := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.SessionID == 0 {
			m.SessionID = sessionID
		}
		batch = append(batch, m)
	}
	if err := e.db.BulkUpsertMessages(batch); err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	e.bus.Publish(bus.NewEvent(bus.KindCacheUpdated, Update{SessionID: sessionID, Messages: len(batch)}))
	return nil
}
