package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/foundrybridge/internal/socketio"
	"github.com/nextlevelbuilder/foundrybridge/internal/state"
	"github.com/nextlevelbuilder/foundrybridge/pkg/protocol"
)

// FailureThreshold is the consecutive-counted-failure budget: hitting it
// converts silent protocol degradation into one forced disconnect instead of
// an infinite hang.
const FailureThreshold = 15

// dispatch funnels one typed document operation through the generic
// modifyDocument event and maintains the failure budget around it.
//
// failHard=false marks reads that are expected to fail harmlessly (e.g. a
// not-yet-authorized guest); their failures reset the budget rather than
// spending it.
func (c *Client) dispatch(ctx context.Context, docType protocol.DocumentType, action protocol.Action, op protocol.Operation, parent *protocol.ParentRef, failHard bool) (*protocol.DocumentResponse, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !conn.Connected() {
		return nil, newError(protocol.ErrCodeNotConnected, "%s %s issued while disconnected", action, docType)
	}

	op.Action = action
	if parent != nil {
		op.ParentUUID = parent.UUID()
	}

	ctx, span := c.tracer.Start(ctx, "modifyDocument")
	span.SetAttributes(
		attribute.String("document.type", string(docType)),
		attribute.String("document.action", string(action)),
	)
	defer span.End()

	raw, err := conn.Emit(ctx, protocol.ModifyDocumentEvent, protocol.DocumentRequest{
		Type:      docType,
		Action:    action,
		Operation: op,
	})
	if err != nil {
		err = wrapEmitError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.recordFailure(docType, action, err, failHard)
		return nil, err
	}

	resp := &protocol.DocumentResponse{}
	if len(raw) > 0 {
		if uerr := json.Unmarshal(raw, resp); uerr != nil {
			// A well-formed ack with an undecodable envelope still proves the
			// round trip works; keep the raw payload reachable.
			slog.Debug("undecodable document response", "type", docType, "action", action, "error", uerr)
			resp.Result = []json.RawMessage{raw}
		}
	}
	if resp.Error != "" {
		err := newError(protocol.ErrCodeServer, "%s", resp.Error)
		span.RecordError(err)
		span.SetStatus(codes.Error, resp.Error)
		c.recordFailure(docType, action, err, failHard)
		return nil, err
	}

	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
	return resp, nil
}

// recordFailure spends (or refunds) failure budget and fires the forced
// disconnect when the budget is exhausted.
func (c *Client) recordFailure(docType protocol.DocumentType, action protocol.Action, err error, failHard bool) {
	c.mu.Lock()

	if !failHard {
		c.failures = 0
		c.mu.Unlock()
		slog.Debug("soft document failure", "type", docType, "action", action, "error", err)
		return
	}

	var te *socketio.TimeoutError
	if errors.As(err, &te) && state.InLaunchWindow(c.machine.Flags, time.Now()) {
		// Servers routinely stall document RPCs for 30-60s while a world
		// boots; counting these would cause a disconnect storm exactly when
		// reconnection is least wanted.
		c.mu.Unlock()
		slog.Info("rpc timeout during world launch, not counted", "type", docType, "action", action)
		return
	}

	c.failures++
	n := c.failures
	exhausted := n >= FailureThreshold
	if exhausted {
		// Reset while still holding the lock so the threshold fires exactly
		// one disconnect even under concurrent failures.
		c.failures = 0
	}
	c.mu.Unlock()

	slog.Warn("document rpc failed", "type", docType, "action", action, "consecutive", n, "error", err)
	if exhausted {
		c.forceDisconnect("15 consecutive document failures", true)
	}
}
